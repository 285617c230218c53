// Package minilog is a small structured logger shared by the distfs
// daemons (naming service, storage server; the client binary does not use
// it). Each daemon registers one or more loggers (stderr, a truncated-on-startup log file, an
// in-memory ring for introspection) and tags them with a Component so
// interleaved output stays attributable to the role that produced it.
package minilog

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// logger is anything that can receive a fully formatted log line.
type logger interface {
	Println(...interface{})
}

type minilogger struct {
	logger

	Level     Level
	Color     bool // print in color
	Component string
	filters   []string
}

func (l *minilogger) prologue(level Level, name string) (msg string) {
	if l.Color {
		msg += colorLine
	}

	msg += level.String() + " "

	if l.Component != "" {
		msg += l.Component + " "
	}

	if name == "" {
		_, file, line, _ := runtime.Caller(4)
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if file[i] == '/' {
				short = file[i+1:]
				break
			}
		}
		msg += short + ":" + strconv.Itoa(line) + ": "
	} else {
		msg += name + ": "
	}

	if l.Color {
		switch level {
		case DEBUG:
			msg += colorDebug
		case INFO:
			msg += colorInfo
		case WARN:
			msg += colorWarn
		case ERROR:
			msg += colorError
		default:
			msg += colorFatal
		}
	}
	return
}

func (l *minilogger) epilogue() string {
	if l.Color {
		return Reset
	}
	return ""
}

func (l *minilogger) log(level Level, name, format string, arg ...interface{}) {
	msg := l.prologue(level, name) + fmt.Sprintf(format, arg...) + l.epilogue()
	for _, f := range l.filters {
		if strings.Contains(msg, f) {
			return
		}
	}
	l.Println(msg)
}

func (l *minilogger) logln(level Level, name string, arg ...interface{}) {
	msg := l.prologue(level, name) + fmt.Sprint(arg...) + l.epilogue()
	for _, f := range l.filters {
		if strings.Contains(msg, f) {
			return
		}
	}
	l.Println(msg)
}

var (
	mu       sync.Mutex
	loggers  = map[string]*minilogger{}
	minLevel = FATAL // lowest level across all registered loggers
)

// AddLogger registers a sink under name at the given level. component (e.g.
// "NS", "SS", "CLIENT") is prefixed to every line emitted through this
// logger so a merged log stream stays attributable to the role that
// produced it.
func AddLogger(name string, l logger, level Level, color bool, component string) {
	mu.Lock()
	defer mu.Unlock()

	loggers[name] = &minilogger{
		logger:    l,
		Level:     level,
		Color:     color,
		Component: component,
	}
	if level < minLevel {
		minLevel = level
	}
}

// DelLogger removes a previously registered logger.
func DelLogger(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(loggers, name)

	min := FATAL
	for _, l := range loggers {
		if l.Level < min {
			min = l.Level
		}
	}
	minLevel = min
}

// WillLog reports whether any registered logger would emit a message at the
// given level, letting callers skip expensive formatting work.
func WillLog(level Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return level >= minLevel
}

func dispatch(level Level, name, format string, arg []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if level >= l.Level {
			l.log(level, name, format, arg...)
		}
	}
}

func dispatchln(level Level, name string, arg []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if level >= l.Level {
			l.logln(level, name, arg...)
		}
	}
}

func Debug(format string, arg ...interface{})   { dispatch(DEBUG, "", format, arg) }
func Debugln(arg ...interface{})                { dispatchln(DEBUG, "", arg) }
func Info(format string, arg ...interface{})    { dispatch(INFO, "", format, arg) }
func Infoln(arg ...interface{})                 { dispatchln(INFO, "", arg) }
func Warn(format string, arg ...interface{})    { dispatch(WARN, "", format, arg) }
func Warnln(arg ...interface{})                 { dispatchln(WARN, "", arg) }
func Error(format string, arg ...interface{})   { dispatch(ERROR, "", format, arg) }
func Errorln(arg ...interface{})                { dispatchln(ERROR, "", arg) }

func Fatal(format string, arg ...interface{}) {
	dispatch(FATAL, "", format, arg)
	panic(fmt.Sprintf(format, arg...))
}

func Fatalln(arg ...interface{}) {
	dispatchln(FATAL, "", arg)
	panic(fmt.Sprint(arg...))
}
