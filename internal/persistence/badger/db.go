// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Open opens the Badger directory at dir. An empty dir opens an in-memory
// store that is discarded on Close.
func Open(dir string, logger *slog.Logger) (*badger.DB, error) {
	dir = strings.TrimSpace(dir)

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(newLogAdapter(logger))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return db, nil
}

// Ping reports whether db is open.
func Ping(db *badger.DB) error {
	if db == nil {
		return errors.New("nil badger db")
	}
	if db.IsClosed() {
		return errors.New("badger db is closed")
	}
	return nil
}

// logAdapter routes badger's printf-style logging into slog. Badger is chatty
// at info level, so Infof is demoted to debug.
type logAdapter struct {
	logger *slog.Logger
}

func newLogAdapter(logger *slog.Logger) badger.Logger {
	if logger == nil {
		return nil
	}
	return &logAdapter{logger: logger.With("component", "badger")}
}

func (l *logAdapter) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *logAdapter) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *logAdapter) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *logAdapter) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
