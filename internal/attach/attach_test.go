package attach

import (
	"bufio"
	"encoding/hex"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// openTestPTY opens a real master/slave pty pair so Run is exercised
// against the same bidirectional file it gets in production from
// github.com/creack/pty, rather than a one-way pipe.
func openTestPTY(t *testing.T) (master, slave *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		master.Close()
		slave.Close()
	})
	return master, slave
}

// TestRunFramesPTYOutputAsHex verifies bytes written on the child side
// of the pty reach the client as "output:<hex>" lines (§4.9, P7).
func TestRunFramesPTYOutputAsHex(t *testing.T) {
	master, slave := openTestPTY(t)

	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		Run(serverConn, master, "web", testLogger())
		close(done)
	}()

	slave.Write([]byte("hello"))

	reader := bufio.NewReader(clientConn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	line = strings.TrimSpace(line)

	require.True(t, strings.HasPrefix(line, "output:"))
	decoded, err := hex.DecodeString(strings.TrimPrefix(line, "output:"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(decoded))

	clientConn.Write([]byte("detach\n"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after detach")
	}
}

// TestRunWritesProcessInputToPTY verifies process_input frames decode
// and land on the pty master unchanged, readable back on the slave
// side exactly like a real attached program would see its stdin.
func TestRunWritesProcessInputToPTY(t *testing.T) {
	master, slave := openTestPTY(t)

	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		Run(serverConn, master, "web", testLogger())
		close(done)
	}()

	payload := hex.EncodeToString([]byte("echo hi\n"))
	clientConn.Write([]byte("process_input web " + payload + "\n"))

	buf := make([]byte, 64)
	slave.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := slave.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo hi\n", string(buf[:n]))

	clientConn.Write([]byte("detach\n"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after detach")
	}
}

// TestRunReportsTerminatedOnPTYEOF matches the child-exit notification
// the client sees when the pty master hits EOF (the slave side closing,
// as it does once the attached child exits).
func TestRunReportsTerminatedOnPTYEOF(t *testing.T) {
	master, slave := openTestPTY(t)

	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		Run(serverConn, master, "web", testLogger())
		close(done)
	}()

	slave.Close() // simulate the attached child exiting

	reader := bufio.NewReader(clientConn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "terminated", strings.TrimSpace(line))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after pty EOF")
	}
}
