// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level is the severity of a log message.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for a source.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Fatal(format string, args ...interface{})
	Panic(format string, args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Panicf(format string, args ...interface{})

	// DebugEnabled returns true if debugging is enabled for this source.
	DebugEnabled() bool
	// EnableDebug enables or disables debugging for this source,
	// returning the previous state.
	EnableDebug(bool) bool
	// Source returns the source name of this logger.
	Source() string
	// SlogHandler returns a log/slog handler emitting through this logger.
	SlogHandler() slog.Handler
}

// logger is the Logger implementation for a single source.
type logger struct {
	source string
}

// logging is the shared state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level
	dbgmap  srcmap
	debug   map[string]bool
	forced  bool
	prefix  bool
	loggers map[string]logger
}

// callDepth is the number of frames between klog and the caller.
const callDepth = 2

var (
	log = &logging{
		level:   DefaultLevel,
		dbgmap:  make(srcmap),
		debug:   make(map[string]bool),
		loggers: make(map[string]logger),
	}
	deflog = log.get("default")
)

// Get returns the logger for the given source, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Default returns the default logger.
func Default() Logger {
	return deflog
}

// Flush flushes any pending log messages.
func Flush() {
	klog.Flush()
}

// SetStdLogger redirects messages of the standard log package to the given source.
func SetStdLogger(source string) {
	l := deflog
	if source != "" {
		l = log.get(source)
	}
	stdlog.SetFlags(0)
	stdlog.SetOutput(&stdWriter{l: l})
}

// SetupDebugToggleSignal sets up a signal for toggling debugging of all sources.
func SetupDebugToggleSignal(sig os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	go func() {
		for range ch {
			log.Lock()
			log.forced = !log.forced
			state := log.forced
			log.Unlock()
			deflog.Warn("forced full debugging is now %v...", state)
		}
	}()
}

func (l *logging) get(source string) logger {
	l.Lock()
	defer l.Unlock()

	if lg, ok := l.loggers[source]; ok {
		return lg
	}

	lg := logger{source: source}
	l.loggers[source] = lg
	l.debug[source] = l.dbgmap.enabled(source)

	return lg
}

// setDbgMap updates the debug settings of all sources. Must be called
// with the lock held.
func (l *logging) setDbgMap(m srcmap) {
	l.dbgmap = m
	for source := range l.loggers {
		l.debug[source] = m.enabled(source)
	}
	if m.enabled("*") {
		l.level = LevelDebug
	} else {
		l.level = DefaultLevel
	}
}

// setPrefix sets source prefixing of messages. Must be called with the lock held.
func (l *logging) setPrefix(prefix bool) {
	l.prefix = prefix
}

func (l *logging) debugEnabled(source string) bool {
	l.RLock()
	defer l.RUnlock()
	return l.forced || l.debug[source]
}

func (l *logging) format(source, format string, args ...interface{}) string {
	l.RLock()
	prefix := l.prefix
	l.RUnlock()

	msg := fmt.Sprintf(format, args...)
	if prefix {
		return "[" + source + "] " + msg
	}
	return msg
}

// enabled returns the debug state of a source in the map, falling back to
// the wildcard entry.
func (m srcmap) enabled(source string) bool {
	if state, ok := m[source]; ok {
		return state
	}
	return m["*"]
}

func (l logger) Source() string {
	return l.source
}

func (l logger) DebugEnabled() bool {
	return log.debugEnabled(l.source)
}

func (l logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()
	prev := log.debug[l.source]
	log.debug[l.source] = state
	return prev
}

func (l logger) Debug(format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	klog.InfoDepth(callDepth-1, "D: "+log.format(l.source, format, args...))
}

func (l logger) Info(format string, args ...interface{}) {
	klog.InfoDepth(callDepth-1, log.format(l.source, format, args...))
}

func (l logger) Warn(format string, args ...interface{}) {
	klog.WarningDepth(callDepth-1, log.format(l.source, format, args...))
}

func (l logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(callDepth-1, log.format(l.source, format, args...))
}

func (l logger) Fatal(format string, args ...interface{}) {
	klog.FatalDepth(callDepth-1, log.format(l.source, format, args...))
}

func (l logger) Panic(format string, args ...interface{}) {
	msg := log.format(l.source, format, args...)
	klog.ErrorDepth(callDepth-1, msg)
	panic(msg)
}

func (l logger) Debugf(format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	klog.InfoDepth(callDepth-1, "D: "+log.format(l.source, format, args...))
}

func (l logger) Infof(format string, args ...interface{}) {
	klog.InfoDepth(callDepth-1, log.format(l.source, format, args...))
}

func (l logger) Warnf(format string, args ...interface{}) {
	klog.WarningDepth(callDepth-1, log.format(l.source, format, args...))
}

func (l logger) Errorf(format string, args ...interface{}) {
	klog.ErrorDepth(callDepth-1, log.format(l.source, format, args...))
}

func (l logger) Fatalf(format string, args ...interface{}) {
	klog.FatalDepth(callDepth-1, log.format(l.source, format, args...))
}

func (l logger) Panicf(format string, args ...interface{}) {
	msg := log.format(l.source, format, args...)
	klog.ErrorDepth(callDepth-1, msg)
	panic(msg)
}

// stdWriter passes lines written by the standard log package to a Logger.
type stdWriter struct {
	l Logger
}

func (w *stdWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		w.l.Info("%s", line)
	}
	return len(p), nil
}
