// Package attach implements C9 AttachMux (§4.9, §4.8 "attach sub-
// framing"): once a control connection successfully attaches to a
// running instance, it bridges the client socket and the instance's pty
// master, framing pty output as hex lines and decoding client input
// frames back onto the pty.
//
// Run executes in the control connection's own per-client goroutine and
// spawns exactly one auxiliary goroutine to pump pty->client output
// concurrently with the client->pty read loop, matching the "only
// permitted auxiliary thread is the AttachMux pump" rule in §5.
package attach

import (
	"bufio"
	"encoding/hex"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	readChunk    = 4096
	pollInterval = 150 * time.Millisecond
)

// Run blocks until the session ends, either because the client sent
// `detach`, the pty hit EOF (child exited), or the connection itself
// failed. It never closes conn - control resumes in the caller's normal
// command loop afterward.
func Run(conn net.Conn, ptyFile *os.File, indexedName string, log logrus.FieldLogger) {
	ptyDone := make(chan struct{})

	go pumpPTYToClient(ptyFile, conn, ptyDone, log, indexedName)

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ptyDone:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(pollInterval))
		line, err := reader.ReadString('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "process_input "):
			handleProcessInput(line, ptyFile, log, indexedName)
		case line == "detach" || strings.HasPrefix(line, "detach "):
			conn.SetReadDeadline(time.Time{})
			return
		}
	}
}

func pumpPTYToClient(ptyFile *os.File, conn net.Conn, done chan struct{}, log logrus.FieldLogger, indexedName string) {
	defer close(done)
	buf := make([]byte, readChunk)
	for {
		n, err := ptyFile.Read(buf)
		if n > 0 {
			frame := "output:" + hex.EncodeToString(buf[:n]) + "\n"
			if _, werr := conn.Write([]byte(frame)); werr != nil {
				return
			}
		}
		if err != nil {
			conn.Write([]byte("terminated\n"))
			log.WithField("instance", indexedName).Info("attach session: pty reached EOF")
			return
		}
	}
}

// handleProcessInput decodes `process_input <indexed> <hex>` and writes
// the bytes to the pty master unchanged (§4.9, P7: bytes round-trip
// identically - the server never interprets them).
func handleProcessInput(line string, ptyFile *os.File, log logrus.FieldLogger, indexedName string) {
	rest := strings.TrimPrefix(line, "process_input ")
	parts := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if len(parts) != 2 {
		return
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		log.WithField("instance", indexedName).WithError(err).Warn("attach: malformed hex in process_input")
		return
	}
	if _, err := ptyFile.Write(data); err != nil {
		log.WithField("instance", indexedName).WithError(err).Warn("attach: write to pty failed")
	}
}
