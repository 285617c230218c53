package minilog

import (
	"log"
	"os"
)

// stdLogAdapter lets the standard library's *log.Logger act as a minilog
// sink, so Setup can register stderr without reimplementing timestamping.
type stdLogAdapter struct {
	l *log.Logger
}

func (a stdLogAdapter) Println(v ...interface{}) {
	a.l.Println(v...)
}

// Setup wires up stderr logging plus a truncated, periodically flushed log
// file for component (one of "NS", "SS", "CLIENT"). It returns the Flusher
// so the caller can Stop it on shutdown.
func Setup(component, logPath string, level Level, color bool) (*Flusher, error) {
	AddLogger("stderr", stdLogAdapter{log.New(os.Stderr, "", 0)}, level, color, component)

	sink, err := OpenTruncated(logPath)
	if err != nil {
		return nil, err
	}
	AddLogger("file", sink, level, false, component)

	return StartFlusher(sink), nil
}
