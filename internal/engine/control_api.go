package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// request is how ControlServer/AttachMux hand work to the loop
// goroutine - the only permitted cross-goroutine channel per §5.
type request struct {
	verb string
	arg  string
	// indexedName is only set for attach-session bookkeeping.
	indexedName string
	reply       chan *Response
}

// Response is what the loop goroutine hands back for one request.
type Response struct {
	Lines []string
	Err   error

	// Attach fields are populated only for a successful `attach`.
	Attach      bool
	AttachPID   int
	IndexedName string
	PTY         *os.File
}

// Submit sends one verb/arg pair to the loop and blocks for its
// response. Safe to call concurrently from many connection goroutines.
func (e *Engine) Submit(verb, arg string) *Response {
	reply := make(chan *Response, 1)
	e.requests <- &request{verb: verb, arg: arg, reply: reply}
	return <-reply
}

// NotifyDetached tells the loop an attach session for indexedName ended
// (client detached, pty hit EOF, or connection dropped), so it can clear
// the Attached flag (§4.9 "at most one attached client per Instance").
func (e *Engine) NotifyDetached(indexedName string) {
	reply := make(chan *Response, 1)
	e.requests <- &request{verb: "_attach_closed", indexedName: indexedName, reply: reply}
	<-reply
}

var helpText = []struct {
	verb string
	desc string
}{
	{"start", "Start the service or process"},
	{"stop", "Stop the service or process"},
	{"restart", "Restart the service or process"},
	{"status", "Show the current status"},
	{"reload", "Reload the configuration"},
	{"attach", "Attach to a running instance's pty"},
	{"detach", "Detach an active attach session"},
	{"process_input", "Send input to an attached instance (attach mode only)"},
	{"exit", "Close the connection"},
	{"help", "Show available commands"},
}

func helpLines() []string {
	lines := make([]string, 0, len(helpText))
	for _, h := range helpText {
		lines = append(lines, fmt.Sprintf("%-14s %s", h.verb, h.desc))
	}
	return lines
}

// handle dispatches one request on the loop goroutine. It always
// replies exactly once.
func (e *Engine) handle(req *request) {
	var resp *Response
	switch strings.ToLower(req.verb) {
	case "start":
		resp = e.handleStart(req.arg)
	case "stop":
		resp = e.handleStop(req.arg)
	case "restart":
		resp = e.handleRestart(req.arg)
	case "status":
		resp = e.handleStatus()
	case "reload":
		resp = e.handleReload(req.arg)
	case "attach":
		resp = e.handleAttach(req.arg)
	case "detach":
		resp = e.handleDetach(req.arg)
	case "process_input":
		resp = &Response{Err: fmt.Errorf("not attached")}
	case "help":
		resp = &Response{Lines: helpLines()}
	case "_attach_closed":
		resp = e.handleAttachClosed(req.indexedName)
	default:
		resp = &Response{Err: fmt.Errorf("unknown command: %s", req.verb)}
	}
	req.reply <- resp
}

func (e *Engine) handleAttachClosed(indexedName string) *Response {
	if inst, ok := e.instances[indexedName]; ok {
		inst.Attached = false
	}
	return &Response{}
}

func (e *Engine) handleStatus() *Response {
	names := make([]string, 0, len(e.groups))
	for name := range e.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		lines = append(lines, e.groups[name].Status()...)
	}
	return &Response{Lines: lines}
}
