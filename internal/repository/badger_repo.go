// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	persistbadger "github.com/Fan4Metal/emby-webhooks-app/internal/persistence/badger"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const DriverBadger = "badger"

// Key layout. Log keys carry a big-endian id so iteration order is id order.
var (
	statePrefix = []byte("state/")
	logPrefix   = []byte("log/")
	logSeqKey   = []byte("seq/log")
)

const (
	logSeqBandwidth    = 64
	maxConflictRetries = 16

	blockedWriteBackoff = 5 * time.Millisecond
	maxBlockedWait      = 2 * time.Second
)

// ErrTooManyConflicts is returned when a transaction keeps losing the
// optimistic commit race.
var ErrTooManyConflicts = errors.New("too many transaction conflicts")

type BadgerRepository struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
}

type badgerState struct {
	LastEvent domain.EventKind `json:"last_event"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewBadgerRepository(db *badger.DB, logger *slog.Logger) (*BadgerRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seq, err := db.GetSequence(logSeqKey, logSeqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("log id sequence: %w", err)
	}

	return &BadgerRepository{
		db:     db,
		seq:    seq,
		logger: logger,
	}, nil
}

func (r *BadgerRepository) Driver() string { return DriverBadger }

// WithinTx runs fn in an optimistic read-write transaction. A commit that
// loses to a concurrent writer of the same session key is re-run from
// scratch and then observes the winner's state. Writes rejected while Clear
// drops the key ranges are re-run after a short pause, for up to
// maxBlockedWait.
func (r *BadgerRepository) WithinTx(ctx context.Context, fn func(Tx) error) error {
	var (
		conflicts    int
		blockedSince time.Time
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.runTx(ctx, fn)
		switch {
		case errors.Is(err, badger.ErrConflict):
			conflicts++
			if conflicts >= maxConflictRetries {
				r.logger.Error("badger tx gave up", "attempts", conflicts)
				return ErrTooManyConflicts
			}
			r.logger.Debug("badger tx conflict, retrying", "attempt", conflicts)

		case errors.Is(err, badger.ErrBlockedWrites):
			if blockedSince.IsZero() {
				blockedSince = time.Now()
			}
			if time.Since(blockedSince) > maxBlockedWait {
				r.logger.Error("badger writes stayed blocked", "waited", time.Since(blockedSince), "error", err)
				return err
			}
			r.logger.Debug("badger writes blocked, retrying")
			if err := sleepCtx(ctx, blockedWriteBackoff); err != nil {
				return err
			}

		default:
			if err != nil {
				r.logger.Error("badger tx failed", "attempt", conflicts+1, "error", err)
			}
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *BadgerRepository) runTx(ctx context.Context, fn func(Tx) error) error {
	txn := r.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(&badgerTx{txn: txn, seq: r.seq}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return txn.Commit()
}

type badgerTx struct {
	txn *badger.Txn
	seq *badger.Sequence
}

func stateKey(key string) []byte {
	return append(append([]byte{}, statePrefix...), key...)
}

func logKey(id int64) []byte {
	k := make([]byte, len(logPrefix)+8)
	copy(k, logPrefix)
	binary.BigEndian.PutUint64(k[len(logPrefix):], uint64(id))
	return k
}

func (t *badgerTx) SwapSessionState(_ context.Context, key string, kind domain.EventKind, at time.Time) (bool, error) {
	k := stateKey(key)

	item, err := t.txn.Get(k)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return false, fmt.Errorf("get session state: %w", err)
	default:
		var current badgerState
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return false, fmt.Errorf("decode session state: %w", err)
		}
		if current.LastEvent == kind {
			return false, nil
		}
	}

	data, err := json.Marshal(badgerState{LastEvent: kind, UpdatedAt: at.UTC()})
	if err != nil {
		return false, fmt.Errorf("encode session state: %w", err)
	}
	if err := t.txn.Set(k, data); err != nil {
		return false, fmt.Errorf("set session state: %w", err)
	}
	return true, nil
}

func (t *badgerTx) DeleteSessionState(_ context.Context, key string) error {
	if err := t.txn.Delete(stateKey(key)); err != nil {
		return fmt.Errorf("delete session state: %w", err)
	}
	return nil
}

// AppendEntry draws the id from a leased sequence. Ids drawn by a transaction
// that later aborts are not reused, so the log may have gaps.
func (t *badgerTx) AppendEntry(_ context.Context, entry domain.LogEntry) (int64, error) {
	next, err := t.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next log id: %w", err)
	}
	entry.ID = int64(next) + 1
	entry.ReceivedAt = entry.ReceivedAt.UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encode log entry: %w", err)
	}
	if err := t.txn.Set(logKey(entry.ID), data); err != nil {
		return 0, fmt.Errorf("set log entry: %w", err)
	}
	return entry.ID, nil
}

func (r *BadgerRepository) ListRecent(_ context.Context, limit int) ([]domain.LogEntry, error) {
	limit = normalizeLimit(limit)
	out := make([]domain.LogEntry, 0, limit)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = logPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, logPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(logPrefix) && len(out) < limit; it.Next() {
			var entry domain.LogEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("decode log entry: %w", err)
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("list recent failed", "limit", limit, "error", err)
		return nil, err
	}

	return out, nil
}

func (r *BadgerRepository) ListSessionStates(_ context.Context) ([]domain.SessionState, error) {
	out := make([]domain.SessionState, 0, 8)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = statePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(statePrefix); it.Next() {
			item := it.Item()
			var state badgerState
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			}); err != nil {
				return fmt.Errorf("decode session state: %w", err)
			}
			out = append(out, domain.SessionState{
				SessionKey: string(item.Key()[len(statePrefix):]),
				LastEvent:  state.LastEvent,
				UpdatedAt:  state.UpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		r.logger.Error("list sessions failed", "error", err)
		return nil, err
	}

	sortSessionStates(out)
	return out, nil
}

// Clear drops both key ranges. The counts come from a read taken just before
// the drop, so a write committed in between is removed but not counted.
// Writes issued while DropPrefix runs are rejected by badger and re-run by
// WithinTx once the drop finishes.
func (r *BadgerRepository) Clear(_ context.Context) (domain.ClearResult, error) {
	var result domain.ClearResult

	err := r.db.View(func(txn *badger.Txn) error {
		result.Entries = countPrefix(txn, logPrefix)
		result.Sessions = countPrefix(txn, statePrefix)
		return nil
	})
	if err != nil {
		r.logger.Error("count before clear failed", "error", err)
		return result, err
	}

	if err := r.db.DropPrefix(logPrefix, statePrefix); err != nil {
		r.logger.Error("clear failed", "error", err)
		return domain.ClearResult{}, err
	}

	r.logger.Debug("clear committed", "entries", result.Entries, "sessions", result.Sessions)
	return result, nil
}

func countPrefix(txn *badger.Txn, prefix []byte) int64 {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var n int64
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

func (r *BadgerRepository) PruneSessionStates(_ context.Context, before time.Time) (int64, error) {
	var deleted int64

	err := r.db.Update(func(txn *badger.Txn) error {
		stale, err := staleSessionKeys(txn, before)
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete session state: %w", err)
			}
		}
		deleted = int64(len(stale))
		return nil
	})
	if err != nil {
		r.logger.Error("prune sessions failed", "before", before, "error", err)
		return 0, err
	}

	r.logger.Info("stale sessions pruned", "before", before, "deleted", deleted)
	return deleted, nil
}

func staleSessionKeys(txn *badger.Txn, before time.Time) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = statePrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var stale [][]byte
	for it.Rewind(); it.ValidForPrefix(statePrefix); it.Next() {
		item := it.Item()
		var state badgerState
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		}); err != nil {
			return nil, fmt.Errorf("decode session state: %w", err)
		}
		if state.UpdatedAt.Before(before) {
			stale = append(stale, item.KeyCopy(nil))
		}
	}
	return stale, nil
}

func (r *BadgerRepository) Check(_ context.Context) error {
	return persistbadger.Ping(r.db)
}

// Close releases the unused part of the id lease and closes the store.
func (r *BadgerRepository) Close() error {
	if err := r.seq.Release(); err != nil {
		r.logger.Warn("release log id sequence failed", "error", err)
	}
	return r.db.Close()
}
