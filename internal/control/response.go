package control

import (
	"fmt"
	"net"
	"strings"

	"taskmasterd/internal/engine"
)

// writeResponse renders an engine.Response per §4.8: attach gets
// "ATTACH_OK|<pid>" on success, everything else is newline-separated
// text, and any error is prefixed "Error: ".
func writeResponse(conn net.Conn, resp *engine.Response) {
	var body string
	switch {
	case resp.Err != nil:
		body = "Error: " + resp.Err.Error()
	case resp.Attach:
		body = fmt.Sprintf("ATTACH_OK|%d", resp.AttachPID)
	default:
		body = strings.Join(resp.Lines, "\n")
	}
	conn.Write([]byte(body + "\n"))
}
