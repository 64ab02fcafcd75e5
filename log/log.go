// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package log is a leveled, key-value, terminal-aware logger: Root() for
// the process logger, New(ctx...) for component sub-loggers, colorized
// level tags when stderr is a real terminal.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a log severity level.
type Lvl int32

const (
	LvlError Lvl = iota
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN "
	case LvlInfo:
		return "INFO "
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "?????"
	}
}

var lvlColors = map[Lvl]*color.Color{
	LvlError: color.New(color.FgRed, color.Bold),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgMagenta),
}

// Logger emits leveled records with alternating key/value context pairs.
type Logger interface {
	New(ctx ...interface{}) Logger
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
}

type logger struct {
	ctx []interface{}
}

var (
	outMu    sync.Mutex
	out      io.Writer
	useColor bool
	maxLvl   int32 = int32(LvlInfo)
	root           = &logger{}
)

func init() {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		out = colorable.NewColorableStderr()
		useColor = true
	} else {
		out = os.Stderr
	}
}

// Root returns the process-wide logger.
func Root() Logger { return root }

// SetLevel caps which records are emitted; records above lvl are dropped.
func SetLevel(lvl Lvl) { atomic.StoreInt32(&maxLvl, int32(lvl)) }

// SetOutput redirects log output, disabling colorization (tests, files).
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
	useColor = false
}

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{ctx: make([]interface{}, 0, len(l.ctx)+len(ctx))}
	child.ctx = append(child.ctx, l.ctx...)
	child.ctx = append(child.ctx, ctx...)
	return child
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	if int32(lvl) > atomic.LoadInt32(&maxLvl) {
		return
	}
	tag := lvl.String()
	if useColor {
		tag = lvlColors[lvl].Sprint(tag)
	}

	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, "%s [%s] %-40s", tag, time.Now().Format("01-02|15:04:05.000"), msg)
	writePairs(out, l.ctx)
	writePairs(out, ctx)
	fmt.Fprintln(out)
}

func writePairs(w io.Writer, ctx []interface{}) {
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(w, " %v=%v", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 != 0 {
		fmt.Fprintf(w, " MISSING_VALUE=%v", ctx[len(ctx)-1])
	}
}

// Trace logs at trace level on the root logger.
func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }

// Debug logs at debug level on the root logger.
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }

// Info logs at info level on the root logger.
func Info(msg string, ctx ...interface{}) { root.Info(msg, ctx...) }

// Warn logs at warn level on the root logger.
func Warn(msg string, ctx ...interface{}) { root.Warn(msg, ctx...) }

// Error logs at error level on the root logger.
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
