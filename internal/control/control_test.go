package control

import (
	"bufio"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmasterd/internal/alert"
	"taskmasterd/internal/config"
	"taskmasterd/internal/engine"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// startServer brings up a real Engine and Server on an OS-assigned
// port and returns a dialable address; shutdown is registered with
// t.Cleanup.
func startServer(t *testing.T) string {
	t.Helper()

	table := config.Table{
		"web": {
			Name:         "web",
			Cmd:          "/bin/sleep 5",
			NumProcs:     1,
			AutoRestart:  config.RestartNever,
			ExitCodes:    []int{0},
			StartTime:    0,
			StartRetries: 3,
			StopSignal:   "TERM",
			StopTime:     5,
		},
	}

	log := testLogger()
	eng := engine.New(table, filepath.Join(t.TempDir(), "config.yml"), log, alert.NewLoggingSink(log))
	srv := New("127.0.0.1:0", eng, log)

	stop := make(chan struct{})
	go srv.Serve(stop)
	go eng.Run()

	require.Eventually(t, func() bool { return srv.listener != nil }, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() { close(stop) })
	return srv.listener.Addr().String()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func TestHelpListsVerbs(t *testing.T) {
	addr := startServer(t)
	conn, reader := dial(t, addr)

	conn.Write([]byte("help\n"))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "start")
}

func TestStatusReportsStoppedInstance(t *testing.T) {
	addr := startServer(t)
	conn, reader := dial(t, addr)

	conn.Write([]byte("status\n"))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "web")
	assert.Contains(t, line, "STOPPED")
}

func TestStartThenStatusShowsRunning(t *testing.T) {
	addr := startServer(t)
	conn, reader := dial(t, addr)

	conn.Write([]byte("start web\n"))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "started")

	require.Eventually(t, func() bool {
		conn.Write([]byte("status\n"))
		statusLine, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		return strings.Contains(statusLine, "RUNNING")
	}, 2*time.Second, 50*time.Millisecond)

	conn.Write([]byte("stop web\n"))
	reader.ReadString('\n')
}

func TestUnknownVerbReturnsError(t *testing.T) {
	addr := startServer(t)
	conn, reader := dial(t, addr)

	conn.Write([]byte("bogus\n"))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "Error:")
}

func TestExitClosesConnection(t *testing.T) {
	addr := startServer(t)
	conn, reader := dial(t, addr)

	conn.Write([]byte("exit\n"))
	_, err := reader.ReadString('\n')
	assert.Error(t, err, "server should close the connection on exit")
}
