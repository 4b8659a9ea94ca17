// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log provides the structured, leveled logging used throughout
// this repository: per-channel loggers, a global verbosity gate checked
// by VInfof, and formatted Infof/Warningf/Errorf/Fatalf.
package log

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Severity orders log messages: INFO < WARNING < ERROR < FATAL.
type Severity int8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "I"
	case SeverityWarning:
		return "W"
	case SeverityError:
		return "E"
	case SeverityFatal:
		return "F"
	default:
		return "?"
	}
}

var verbosity atomic.Int32

// SetVerbosity sets the global verbosity level consulted by V and VInfof.
func SetVerbosity(level int32) { verbosity.Store(level) }

// V reports whether logging at the given verbosity level is enabled.
func V(level int32) bool { return verbosity.Load() >= level }

// sink is the process-wide log writer; tests may swap it out.
var sink = os.Stderr

// Channel is a named, per-subsystem logger. Every component in this
// repository logs through a Channel rather than a bare package-level
// function, so that log lines are always attributable to a subsystem.
type Channel struct {
	name string
}

// NewChannel constructs a named logging channel.
func NewChannel(name string) Channel { return Channel{name: name} }

// Migrations is the channel used by the data-migration reconciliation
// core.
var Migrations = NewChannel("migrations")

func (c Channel) output(ctx context.Context, sev Severity, format string, args []interface{}) {
	msg := fmt.Sprintf(format, args...)
	tag := tagsFromContext(ctx)
	fmt.Fprintf(sink, "%s%s [%s]%s %s\n", sev, time.Now().UTC().Format("060102 15:04:05.000000"), c.name, tag, msg)
	if sev == SeverityFatal {
		os.Exit(1)
	}
}

func (c Channel) Infof(ctx context.Context, format string, args ...interface{}) {
	c.output(ctx, SeverityInfo, format, args)
}

func (c Channel) Warningf(ctx context.Context, format string, args ...interface{}) {
	c.output(ctx, SeverityWarning, format, args)
}

func (c Channel) Errorf(ctx context.Context, format string, args ...interface{}) {
	c.output(ctx, SeverityError, format, args)
}

func (c Channel) Fatalf(ctx context.Context, format string, args ...interface{}) {
	c.output(ctx, SeverityFatal, format, args)
}

// VInfof logs at SeverityInfo only if the global verbosity is at least
// level, for noisy, diagnostics-only log lines.
func (c Channel) VInfof(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		c.output(ctx, SeverityInfo, format, args)
	}
}

// package-level convenience wrappers over the default Migrations channel,
// for call sites that don't need to name a different channel.

func Infof(ctx context.Context, format string, args ...interface{}) {
	Migrations.Infof(ctx, format, args...)
}

func Warningf(ctx context.Context, format string, args ...interface{}) {
	Migrations.Warningf(ctx, format, args...)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	Migrations.Errorf(ctx, format, args...)
}

func Fatalf(ctx context.Context, format string, args ...interface{}) {
	Migrations.Fatalf(ctx, format, args...)
}

func VInfof(ctx context.Context, level int32, format string, args ...interface{}) {
	Migrations.VInfof(ctx, level, format, args...)
}

type logTagsKey struct{}

// WithTags annotates ctx with a free-form tag string (e.g. a migration id)
// that output prepends to every subsequent log line made with that
// context.
func WithTags(ctx context.Context, tag string) context.Context {
	if existing, ok := ctx.Value(logTagsKey{}).(string); ok && existing != "" {
		tag = existing + "," + tag
	}
	return context.WithValue(ctx, logTagsKey{}, tag)
}

func tagsFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(logTagsKey{}).(string); ok && v != "" {
		return " [" + v + "]"
	}
	return ""
}
