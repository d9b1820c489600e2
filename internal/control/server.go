// Package control implements C8 ControlServer (§4.8): a line-framed TCP
// request/response server that dispatches start/stop/restart/status/
// reload/attach/detach/process_input/help/exit against the Engine.
package control

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskmasterd/internal/attach"
	"taskmasterd/internal/engine"
)

const (
	acceptTimeout = time.Second
	maxRequest    = 4096
)

// Server is the TCP control listener.
type Server struct {
	addr   string
	engine *engine.Engine
	log    logrus.FieldLogger

	listener net.Listener
}

// New builds a Server bound to addr (default "127.0.0.1:12345", §6).
func New(addr string, eng *engine.Engine, log logrus.FieldLogger) *Server {
	return &Server{addr: addr, engine: eng, log: log}
}

// Serve listens and accepts connections until stop is closed. Accepts
// use a 1s timeout so shutdown is timely even without live traffic
// (§4.8, §5).
func (s *Server) Serve(stop <-chan struct{}) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.WithField("addr", s.addr).Info("control server listening")

	for {
		select {
		case <-stop:
			return ln.Close()
		default:
		}

		if tcpLn, ok := ln.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-stop:
				return nil
			default:
				s.log.WithError(err).Warn("accept failed")
				continue
			}
		}

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReaderSize(conn, maxRequest)

	for {
		line, err := readRequest(reader)
		if err != nil {
			return
		}
		if line == "" {
			continue
		}

		verb, arg := parseLine(line)
		if verb == "exit" {
			return
		}

		resp := s.engine.Submit(verb, arg)
		writeResponse(conn, resp)

		if resp.Attach && resp.Err == nil {
			attach.Run(conn, resp.PTY, resp.IndexedName, s.log)
			s.engine.NotifyDetached(resp.IndexedName)
		}
	}
}

// readRequest reads one newline-terminated request, tolerating short
// reads and a final unterminated line. maxRequest sizes the reader's
// buffer only; a longer line is still read whole.
func readRequest(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseLine(line string) (verb, arg string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", ""
	}
	verb = strings.ToLower(fields[0])
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}
	return verb, arg
}
