// Package alert defines the AlertSink the engine emits UnexpectedExit
// and FATAL notifications to. §7 keeps the actual delivery mechanism
// (email/SMTP) out of scope; this package only carries the contract and
// a logging-based default, in the spirit of the original taskmaster's
// email_alerter.send_alert(severity=...) calls (see
// original_source/Bonus/daemon/start_handler.py).
package alert

import "github.com/sirupsen/logrus"

// Severity mirrors the original's ERROR/CRITICAL distinction between an
// unexpected exit and a FATAL transition.
type Severity string

const (
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event is one alert-worthy occurrence.
type Event struct {
	Kind       string // e.g. "PROCESS_DIED", "PROCESS_FATAL"
	Program    string
	IndexedName string
	Severity   Severity
	Message    string
}

// Sink receives alert events. Implementations may fan out to email, a
// webhook, a ticket system, etc. - all out of scope here.
type Sink interface {
	Alert(Event)
}

// LoggingSink is the default Sink: it logs the event at an appropriate
// level and otherwise does nothing. It satisfies the engine's need for
// an AlertSink without requiring an SMTP collaborator to run tests or
// the daemon standalone.
type LoggingSink struct {
	Log logrus.FieldLogger
}

func NewLoggingSink(log logrus.FieldLogger) *LoggingSink {
	return &LoggingSink{Log: log}
}

func (s *LoggingSink) Alert(ev Event) {
	entry := s.Log.WithFields(logrus.Fields{
		"kind":     ev.Kind,
		"program":  ev.Program,
		"instance": ev.IndexedName,
		"severity": ev.Severity,
	})
	if ev.Severity == SeverityCritical {
		entry.Error(ev.Message)
	} else {
		entry.Warn(ev.Message)
	}
}
