package minilog

import (
	"container/ring"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Ring is a fixed-size in-memory log sink, handy for exposing recent log
// lines to an operator without re-reading the log file from disk.
type Ring struct {
	size int

	mu sync.Mutex
	r  *ring.Ring
}

func NewRing(size int) *Ring {
	return &Ring{
		r:    ring.New(size),
		size: size,
	}
}

// Println mimics the standard log.Logger.Output and prepends the time.
func (l *Ring) Println(v ...interface{}) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.r.Value = now.Format(time.RFC3339) + " " + fmt.Sprint(v...)
	l.r = l.r.Next()
}

// Dump returns the buffered lines in chronological order.
func (l *Ring) Dump() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lines []string
	l.r.Do(func(v interface{}) {
		if v != nil {
			lines = append(lines, v.(string))
		}
	})
	return lines
}

func (l *Ring) String() string {
	lines := l.Dump()
	s := ""
	for i, line := range lines {
		s += strconv.Itoa(i) + ": " + line + "\n"
	}
	return s
}
