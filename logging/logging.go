// Package logging wraps github.com/op/go-logging: a pre-built
// *logging.Logger handed down through constructors rather than a
// package-level global.
package logging

import (
	"os"

	"github.com/op/go-logging"
)

var format = logging.MustStringFormatter(
	`%{time:2006-01-02T15:04:05.000Z07:00} %{level:.4s} %{module}: %{message}`,
)

// New builds a *logging.Logger named module, logging at level (or above)
// to stderr, with an optional additional file backend.
func New(module string, level logging.Level, filePath string) (*logging.Logger, error) {
	backends := []logging.Backend{newBackend(os.Stderr, level)}

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		backends = append(backends, newBackend(f, level))
	}

	logging.SetBackend(backends...)
	return logging.MustGetLogger(module), nil
}

func newBackend(w *os.File, level logging.Level) logging.Backend {
	backend := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")
	return leveled
}
