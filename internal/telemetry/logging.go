// Package telemetry wires structured logging and tracing for the gateway.
//
// Package loggers are created at init time through [Logger], before the
// binary has configured anything. Records are therefore resolved against the
// process default slog handler at the moment they are written, and are also
// forwarded to the OpenTelemetry log bridge for the package scope.
package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Logger returns a logger for the instrumentation scope.
func Logger(scope string) *slog.Logger {
	return slog.New(&fanoutHandler{
		handlers: []slog.Handler{otelslog.NewHandler(scope), defaultHandler{}},
	})
}

// SetupLogging installs a text handler on w as the process default.
func SetupLogging(w io.Writer, level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}

// defaultHandler defers to whatever slog.Default holds when a record is
// written, so loggers created before SetupLogging still honour it.
type defaultHandler struct {
	derive []func(slog.Handler) slog.Handler
}

func (h defaultHandler) resolve() slog.Handler {
	handler := slog.Default().Handler()
	for _, derive := range h.derive {
		handler = derive(handler)
	}
	return handler
}

func (h defaultHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slog.Default().Handler().Enabled(ctx, level)
}

//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h defaultHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h defaultHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (h defaultHandler) WithGroup(name string) slog.Handler {
	return h.with(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (h defaultHandler) with(derive func(slog.Handler) slog.Handler) defaultHandler {
	return defaultHandler{derive: append(append([]func(slog.Handler) slog.Handler{}, h.derive...), derive)}
}
