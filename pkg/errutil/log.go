// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil holds helpers for classifying and logging oops errors.
package errutil

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the oops code carried by err, or "" when err has none.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var oopsErr oops.OopsError
	if errors.As(err, &oopsErr) {
		return codeString(oopsErr)
	}
	return ""
}

// codeString narrows an oops code to a string. Codes in this module are
// always strings; anything else reads as no code.
func codeString(oopsErr oops.OopsError) string {
	code, _ := oopsErr.Code().(string)
	return code
}

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// LogError logs err at ERROR with its code and context when it is an oops
// error, or as a plain error string otherwise.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, slog.LevelError, msg, err)
}

// LogErrorContext is LogError with a context and an explicit level, so the
// log handler can attach request and trace attributes.
func LogErrorContext(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := codeString(oopsErr); code != "" {
			attrs = append(attrs, "code", code)
		}
		if c := oopsErr.Context(); len(c) > 0 {
			attrs = append(attrs, "context", c)
		}
	} else {
		attrs = append(attrs, "error", err)
	}
	logger.Log(ctx, level, msg, attrs...)
}
