// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package log provides a thin functional facade over logrus, scoped to a
// named component, mirroring the convention the rest of the corpus uses
// for per-subsystem structured logging.
package log

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base = logrus.StandardLogger()

	pluginLoggers   = map[string]*logrus.Logger{}
	pluginLoggersMu sync.Mutex
)

// Entry is a lazily-constructed logrus.Entry: callers get component fields
// attached without paying for formatting on disabled levels.
type Entry func() *logrus.Entry

func WithComponent(component string) Entry {
	return func() *logrus.Entry {
		return base.WithField("component", component)
	}
}

func (e Entry) WithField(key string, value interface{}) Entry {
	return func() *logrus.Entry { return e().WithField(key, value) }
}

func (e Entry) WithError(err error) Entry {
	return func() *logrus.Entry { return e().WithError(err) }
}

func (e Entry) Debug(msg string)                    { e().Debug(msg) }
func (e Entry) Debugf(format string, a ...any)       { e().Debugf(format, a...) }
func (e Entry) Info(msg string)                      { e().Info(msg) }
func (e Entry) Infof(format string, a ...any)        { e().Infof(format, a...) }
func (e Entry) Warn(msg string)                      { e().Warn(msg) }
func (e Entry) Warnf(format string, a ...any)        { e().Warnf(format, a...) }
func (e Entry) Error(msg string)                     { e().Error(msg) }
func (e Entry) Errorf(format string, a ...any)       { e().Errorf(format, a...) }
func (e Entry) Fatal(msg string)                     { e().Fatal(msg) }

// SetLevel adjusts the base logger's verbosity; used by CLI --debug flags.
func SetLevel(level logrus.Level) { base.SetLevel(level) }

// ForPlugin returns a *logrus.Logger dedicated to one plugin name, writing
// to its own handler. A second call with the same name replaces the
// previous handler rather than attaching a duplicate one, per the
// one-handler-per-logger-name rule in the concurrency spec.
func ForPlugin(name string, out logrus.Formatter, writer interface {
	Write([]byte) (int, error)
}) *logrus.Logger {
	pluginLoggersMu.Lock()
	defer pluginLoggersMu.Unlock()

	l := logrus.New()
	l.SetFormatter(out)
	l.SetOutput(writer)
	pluginLoggers[name] = l
	return l
}
