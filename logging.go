package rvg

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/kataras/golog"
)

const NEWLINE = "\n"

const LogTimeFormat = "2006-01-02 15:04:05.000"

var Log = newLogger()

// ReserverFormatter prints one line per entry: time, level, calling function, message.
type ReserverFormatter struct{}

func (f *ReserverFormatter) String() string {
	return "ReserverFormatter"
}

// no options, see `Logger.SetFormat`
func (f *ReserverFormatter) Options(_ ...interface{}) golog.Formatter {
	return f
}

func (f *ReserverFormatter) Format(dest io.Writer, log *golog.Log) bool {
	line := fmt.Sprintf("%s %s %s: %s%s", log.Time.Format(LogTimeFormat), golog.Levels[log.Level].Text(true), callerName(), log.Message, NEWLINE)
	if _, err := io.WriteString(dest, line); err != nil {
		fmt.Printf("[FATAL] error in logger: %+v\n", err)
		return false
	}
	return true
}

func newLogger() *golog.Logger {
	logger := golog.New()
	logger.RegisterFormatter(&ReserverFormatter{})
	logger.SetLevel("info")
	logger.SetFormat("ReserverFormatter")
	logger.SetTimeFormat(LogTimeFormat)
	return logger
}

// SetDebug switches the package logger between info and debug level.
func SetDebug(debug bool) {
	if debug {
		Log.SetLevel("debug")
	} else {
		Log.SetLevel("info")
	}
}

var loggerFrames = []string{"kataras/golog", "runtime.", "ReserverFormatter"}

// name of the first function on the stack outside the logger itself
func callerName() string {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !isLoggerFrame(frame.Function) {
			parts := strings.Split(frame.Function, "/")
			return parts[len(parts)-1]
		}
		if !more {
			return "unknown"
		}
	}
}

func isLoggerFrame(fn string) bool {
	if len(fn) == 0 {
		return true
	}
	for _, skip := range loggerFrames {
		if strings.Contains(fn, skip) {
			return true
		}
	}
	return false
}

// failureDetail is attached to failure notifications: when the session
// started, then every error in the chain, outermost first.
func failureDetail(since time.Time, err error) string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("session started %s", since.Format(time.RFC1123)))
	writeErrorChain(&sb, err, 0)
	return sb.String()
}

func writeErrorChain(sb *strings.Builder, err error, depth int) {
	for ; err != nil; depth++ {
		sb.WriteString(fmt.Sprintf("%s%s%T: %v", NEWLINE, strings.Repeat("  ", depth), err, err))
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				writeErrorChain(sb, inner, depth+1)
			}
			return
		}
		err = errors.Unwrap(err)
	}
}
