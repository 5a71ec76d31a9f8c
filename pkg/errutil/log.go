// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package errutil provides helpers for logging and asserting on oops errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error at ERROR level with structured context if it's an
// oops error. For oops errors, it extracts and logs the message, code, and
// context. For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, errAttrs(err)...)
}

// LogWarn logs an error at WARN level with the same attribute extraction as
// LogError. Used for best-effort failures that should not page anyone.
func LogWarn(logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, errAttrs(err)...)
}

func errAttrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}
