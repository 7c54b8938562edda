// Package log implements a small leveled logger in the style this codebase
// uses everywhere: package level values T/D/I/W/E/F (trace, debug, info,
// warn, error, fatal), each exposing F (printf-style), Ln (space-joined,
// like fmt.Println without the trailing newline surprise) and S (spew dump,
// for trace-level structure inspection).
package log

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

// Level identifies a logging severity.
type Level int32

const (
	Off Level = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

var names = map[string]Level{
	"off": Off, "fatal": Fatal, "error": Error, "warn": Warn,
	"info": Info, "debug": Debug, "trace": Trace,
}

// FromString parses a level name as found in RELAY_LOG_LEVEL. Unknown names
// fall back to Info.
func FromString(s string) Level {
	if l, ok := names[strings.ToLower(s)]; ok {
		return l
	}
	return Info
}

var current atomic.Int32

func init() { current.Store(int32(Info)) }

// SetLevel changes the process-wide log level. Safe for concurrent use;
// read on every log call so a SIGHUP reload takes effect immediately.
func SetLevel(l Level) { current.Store(int32(l)) }

func enabled(l Level) bool { return l <= Level(current.Load()) }

// logger is a single severity's logging handle.
type logger struct {
	level  Level
	tag    string
	colorf func(format string, a ...interface{}) string
}

var (
	T = &logger{Trace, "TRC", color.New(color.FgCyan).SprintfFunc()}
	D = &logger{Debug, "DBG", color.New(color.FgBlue).SprintfFunc()}
	I = &logger{Info, "INF", color.New(color.FgGreen).SprintfFunc()}
	W = &logger{Warn, "WRN", color.New(color.FgYellow).SprintfFunc()}
	E = &logger{Error, "ERR", color.New(color.FgRed).SprintfFunc()}
	F = &logger{Fatal, "FTL", color.New(color.FgRed, color.Bold).SprintfFunc()}
)

func (l *logger) write(msg string) {
	if !enabled(l.level) {
		if l.level != Fatal {
			return
		}
	}
	_, file, line, _ := runtime.Caller(2)
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(
		os.Stderr, "%s %s %s:%d %s\n", ts, l.colorf(l.tag), file, line, msg,
	)
	if l.level == Fatal {
		os.Exit(1)
	}
}

// F logs a printf-style formatted message.
func (l *logger) F(format string, a ...interface{}) { l.write(fmt.Sprintf(format, a...)) }

// Ln logs its arguments space-joined, like fmt.Sprintln but trimmed.
func (l *logger) Ln(a ...interface{}) { l.write(strings.TrimRight(fmt.Sprintln(a...), "\n")) }

// S spew-dumps its arguments; reserved for trace/debug level structure
// inspection since it can be expensive to render.
func (l *logger) S(a ...interface{}) {
	if !enabled(l.level) {
		return
	}
	l.write(spew.Sdump(a...))
}

// C lazily evaluates fn and logs the result, only if this level is enabled.
// Use for log lines whose construction itself costs something (e.g.
// serializing an event) so the cost isn't paid when the level is off.
func (l *logger) C(fn func() string) {
	if !enabled(l.level) {
		return
	}
	l.write(fn())
}
