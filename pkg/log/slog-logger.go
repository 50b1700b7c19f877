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
	"context"
	"log/slog"
	"strings"
)

type slogger struct {
	l Logger
}

var _ slog.Handler = &slogger{}

// SetSlogLogger makes the default slog logger emit through the given source.
func SetSlogLogger(source string) {
	l := Default()
	if source != "" {
		l = log.get(source)
	}
	slog.SetDefault(slog.New(l.SlogHandler()))
}

func (l logger) SlogHandler() slog.Handler {
	return &slogger{l: l}
}

func (s *slogger) Enabled(_ context.Context, level slog.Level) bool {
	if level <= slog.LevelDebug {
		return s.l.DebugEnabled()
	}
	return true
}

func (s *slogger) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message
	r.Attrs(func(a slog.Attr) bool {
		msg += " " + a.String()
		return true
	})
	msg = strings.TrimPrefix(msg, r.Level.String()+" ")

	switch {
	case r.Level >= slog.LevelError:
		s.l.Error("%s", msg)
	case r.Level >= slog.LevelWarn:
		s.l.Warn("%s", msg)
	case r.Level >= slog.LevelInfo:
		s.l.Info("%s", msg)
	default:
		s.l.Debug("%s", msg)
	}
	return nil
}

func (s *slogger) WithAttrs(_ []slog.Attr) slog.Handler {
	return s
}

func (s *slogger) WithGroup(_ string) slog.Handler {
	return s
}
