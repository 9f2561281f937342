// Copyright 2025 Chainguard, Inc.
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

// Package logwriter adapts a printf-style log function into an io.Writer so
// output from external tools can be streamed into the logger one line at a
// time.
package logwriter

import (
	"bytes"
	"io"
	"strings"
)

func New(log func(string, ...any)) io.WriteCloser {
	buf := new(bytes.Buffer)
	return &lineWriter{log, buf}
}

type lineWriter struct {
	log func(string, ...any)
	buf *bytes.Buffer
}

func (l *lineWriter) Write(p []byte) (int, error) {
	n, err := l.buf.Write(p)

	for {
		line, lerr := l.buf.ReadString('\n')
		if lerr != nil {
			// Partial line; keep it for the next Write or Close.
			l.buf.WriteString(line)
			break
		}
		l.log("%s", strings.TrimRight(line, "\r\n"))
	}

	return n, err
}

// Close flushes any trailing output that did not end in a newline.
func (l *lineWriter) Close() error {
	if l.buf.Len() != 0 {
		l.log("%s", strings.TrimRight(l.buf.String(), "\r\n"))
		l.buf.Reset()
	}
	return nil
}
