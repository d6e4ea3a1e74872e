/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
)

// Log levels accepted by SetLogLevel and the SHMEM_LOG_LEVEL environment
// variable.
const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

// LogLevelEnv names the environment variable read at startup.
const LogLevelEnv = "SHMEM_LOG_LEVEL"

type logger struct {
	name      string
	out       atomic.Pointer[output]
	callDepth int
}

// output boxes a writer so it can be swapped atomically.
type output struct{ w io.Writer }

var (
	internalLogger = &logger{name: "shm", callDepth: 3}
	level          atomic.Int32

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors    = []string{magenta, green, blue, yellow, red}
	levelName = []string{"Trace", "Debug", "Info", "Warn", "Error"}
)

func init() {
	internalLogger.out.Store(&output{os.Stderr})
	level.Store(LevelWarn)
	if v := os.Getenv(LogLevelEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			SetLogLevel(n)
		}
	}
}

// SetLogLevel changes the internal logger's level. The default level is Warn.
// Out of range values are ignored.
func SetLogLevel(l int) {
	if l >= LevelTrace && l <= LevelNoPrint {
		level.Store(int32(l))
	}
}

// SetLogOutput redirects the internal logger. A nil writer restores stderr.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	internalLogger.out.Store(&output{w})
}

func enabled(l int) bool { return int(level.Load()) <= l }

func (l *logger) logf(lv int, format string, a ...any) {
	if !enabled(lv) {
		return
	}
	if _, err := fmt.Fprintf(l.out.Load().w, l.prefix(lv)+format+reset+"\n", a...); err != nil {
		fmt.Fprintf(os.Stderr, "shm logger failed: %v\n", err)
	}
}

func (l *logger) errorf(format string, a ...any) { l.logf(LevelError, format, a...) }

func (l *logger) warnf(format string, a ...any) { l.logf(LevelWarn, format, a...) }

func (l *logger) infof(format string, a ...any) { l.logf(LevelInfo, format, a...) }

func (l *logger) debugf(format string, a ...any) { l.logf(LevelDebug, format, a...) }

func (l *logger) tracef(format string, a ...any) { l.logf(LevelTrace, format, a...) }

func (l *logger) prefix(lv int) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString(colors[lv])
	_, _ = buf.WriteString(levelName[lv])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.name)
	_ = buf.WriteByte(' ')
	return buf.String()
}

func (l *logger) location() string {
	// logf adds one frame on top of the level helpers.
	_, file, line, ok := runtime.Caller(l.callDepth + 1)
	if !ok {
		file = "???"
		line = 0
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
