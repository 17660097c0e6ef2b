// Copyright 2026 the gtafsync authors
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

// Package log renders user-facing run progress on the console while
// mirroring every line into zerolog for the process trace.
package log

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// 🎨 Display configuration
const (
	fileIndent = 4  // spaces to indent file entries
	nameWidth  = 30 // base width for the batch file name
)

// 🎯 FileOutcome is one processed batch file for console display.
type FileOutcome struct {
	Name    string // batch file name
	Summary string // counts line or failure reason
	Failed  bool   // whether the file ended in failure
}

// 🎯 Logger handles structured logging with console output
type Logger struct {
	zlog    zerolog.Logger
	console io.Writer
	mu      sync.Mutex
	files   int
	failed  int
}

// 🏭 New creates a new logger
func New(console io.Writer, level zerolog.Level) *Logger {
	zlog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(level)
	return &Logger{
		zlog:    zlog,
		console: console,
	}
}

// 🔑 contextKey is the type for context values
type contextKey struct{}

// 🎯 FromContext gets the logger from context
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(contextKey{}).(*Logger)
	if !ok {
		panic("logger not found in context")
	}
	return logger
}

// 🎯 NewContext adds the logger to context
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// 📝 StartRun prints the run header: the remote host and the staging root.
func (l *Logger) StartRun(ctx context.Context, host, root string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.files = 0
	l.failed = 0

	fmt.Fprintf(l.console, "[syncing %s]\n",
		color.New(color.FgCyan).Sprint(host))
	fmt.Fprintf(l.console, "%s %s\n",
		color.New(color.FgMagenta).Sprint("◆"),
		color.New(color.Faint).Sprint(root))

	l.zlog.Info().
		Str("host", host).
		Str("root", root).
		Msg("starting synchronization run")
}

// 📝 LogFileOutcome prints one processed file's line.
func (l *Logger) LogFileOutcome(ctx context.Context, out FileOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.files++
	symbol := color.New(color.FgGreen).Sprint("✓")
	if out.Failed {
		l.failed++
		symbol = color.New(color.FgRed).Sprint("✗")
	}
	fmt.Fprintf(l.console, "%s%s %s %s\n",
		fmt.Sprintf("%*s", fileIndent, ""),
		symbol,
		fmt.Sprintf("%-*s", nameWidth, out.Name),
		color.New(color.Faint).Sprint(out.Summary))

	l.zlog.Info().
		Str("file", out.Name).
		Str("summary", out.Summary).
		Bool("failed", out.Failed).
		Msg("file processed")
}

// 📝 EndRun prints the closing counts line.
func (l *Logger) EndRun(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.zlog.Info().
		Int("files", l.files).
		Int("failed", l.failed).
		Msg("synchronization run complete")

	if l.failed > 0 {
		fmt.Fprintf(l.console, "%s\n", color.New(color.FgRed).Sprintf(
			"%d of %d file(s) failed", l.failed, l.files))
		return
	}
	fmt.Fprintf(l.console, "%s\n", color.New(color.FgGreen).Sprintf(
		"%d file(s) processed", l.files))
}

// 📝 Header logs a header
func (l *Logger) Header(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	title := color.New(color.Bold, color.FgCyan).Sprint("gtafsync")
	fmt.Fprintf(l.console, "\n%s %s\n\n", title, color.New(color.Faint).Sprint("• "+msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Success logs a success message
func (l *Logger) Success(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "✅ %s\n", color.New(color.FgGreen).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Warning logs a warning message
func (l *Logger) Warning(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "⚠️  %s\n", color.New(color.FgYellow).Sprint(msg))
	l.zlog.Warn().Msg(msg)
}

// 📝 Error logs an error message
func (l *Logger) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "❌ %s\n", color.New(color.FgRed).Sprint(msg))
	l.zlog.Error().Msg(msg)
}

// 📝 Info logs an info message
func (l *Logger) Info(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "ℹ️  %s\n", color.New(color.FgCyan).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// 📝 Warningf logs a formatted warning message
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}

// 📝 Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// 📝 Successf logs a formatted success message
func (l *Logger) Successf(format string, args ...interface{}) {
	l.Success(fmt.Sprintf(format, args...))
}
