package engine

import "fmt"

// handleAttach validates and begins an attach session (C9 AttachMux,
// §4.9): the target must be RUNNING, have a pty, and not already be
// attached (P6: at most one attached client per instance).
func (e *Engine) handleAttach(indexedName string) *Response {
	inst, ok := e.instances[indexedName]
	if !ok {
		return &Response{Err: fmt.Errorf("%s: not found", indexedName)}
	}
	if inst.PTY == nil {
		return &Response{Err: fmt.Errorf("%s: not running with a pty (attach not enabled or not running)", indexedName)}
	}
	if inst.Attached {
		return &Response{Err: fmt.Errorf("%s: already attached", indexedName)}
	}

	inst.Attached = true
	return &Response{
		Attach:      true,
		AttachPID:   inst.PID,
		IndexedName: indexedName,
		PTY:         inst.PTY,
	}
}

// handleDetach is the administrative `detach <indexed>` verb issued
// outside of an active attach session: it clears the Attached flag so a
// new attach can succeed. It cannot forcibly interrupt another
// connection's in-progress attach.Run pump (see DESIGN.md); that
// session ends on its own once the client notices or the pty closes.
func (e *Engine) handleDetach(indexedName string) *Response {
	inst, ok := e.instances[indexedName]
	if !ok {
		return &Response{Err: fmt.Errorf("%s: not found", indexedName)}
	}
	inst.Attached = false
	return &Response{Lines: []string{fmt.Sprintf("%s: detached", indexedName)}}
}
