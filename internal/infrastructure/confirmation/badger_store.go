package confirmation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

const keyPrefix = "confirmation/"

// BadgerStore persists pending confirmations in badger. Expiry is left to
// badger's per-entry TTL, so a restarted process still honours the window.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// BadgerOptions configures OpenBadgerStore.
type BadgerOptions struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   ports.Logger
}

// OpenBadgerStore opens (or creates) the store.
func OpenBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	var options badger.Options
	if opts.InMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("badger store path is required")
		}
		if err := os.MkdirAll(opts.Path, domain.DirectoryPermissions); err != nil {
			return nil, fmt.Errorf("create confirmation store directory: %w", err)
		}
		options = badger.DefaultOptions(opts.Path)
	}
	options = options.WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		options = options.WithLogger(badgerLogger{log: opts.Logger})
	} else {
		options = options.WithLogger(nil)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open confirmation store: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Put(_ context.Context, conf domain.ActionConfirmation, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = domain.DefaultConfirmationTTL
	}
	value, err := json.Marshal(conf)
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(storageKey(conf.Session), value).WithTTL(ttl))
	})
}

func (s *BadgerStore) Get(_ context.Context, key domain.SessionKey) (domain.ActionConfirmation, error) {
	var conf domain.ActionConfirmation
	err := s.db.View(func(txn *badger.Txn) error {
		loaded, _, err := s.load(txn, key)
		conf = loaded
		return err
	})
	return conf, err
}

func (s *BadgerStore) Resolve(_ context.Context, key domain.SessionKey, actionID string, state domain.ConfirmationState, by string) (domain.ActionConfirmation, error) {
	return s.update(key, func(conf domain.ActionConfirmation) (domain.ActionConfirmation, error) {
		return resolve(conf, actionID, state, by, s.now())
	})
}

func (s *BadgerStore) Consume(_ context.Context, key domain.SessionKey, actionID string) (domain.ActionConfirmation, error) {
	return s.update(key, func(conf domain.ActionConfirmation) (domain.ActionConfirmation, error) {
		return consume(conf, actionID)
	})
}

func (s *BadgerStore) Delete(_ context.Context, key domain.SessionKey) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storageKey(key))
	})
}

// update runs a transition inside one read-write transaction, keeping the
// entry's remaining TTL. A conflicting concurrent transition surfaces as
// badger.ErrConflict.
func (s *BadgerStore) update(key domain.SessionKey, transition func(domain.ActionConfirmation) (domain.ActionConfirmation, error)) (domain.ActionConfirmation, error) {
	var result domain.ActionConfirmation
	err := s.db.Update(func(txn *badger.Txn) error {
		conf, remaining, err := s.load(txn, key)
		if err != nil {
			return err
		}
		updated, err := transition(conf)
		result = updated
		if err != nil {
			return err
		}
		value, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("encode confirmation: %w", err)
		}
		entry := badger.NewEntry(storageKey(key), value)
		if remaining > 0 {
			entry = entry.WithTTL(remaining)
		}
		return txn.SetEntry(entry)
	})
	return result, err
}

func (s *BadgerStore) load(txn *badger.Txn, key domain.SessionKey) (domain.ActionConfirmation, time.Duration, error) {
	item, err := txn.Get(storageKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ActionConfirmation{}, 0, domain.ErrConfirmationNotFound
	}
	if err != nil {
		return domain.ActionConfirmation{}, 0, fmt.Errorf("read confirmation: %w", err)
	}

	var remaining time.Duration
	if expires := item.ExpiresAt(); expires > 0 {
		remaining = time.Unix(int64(expires), 0).Sub(s.now())
		if remaining <= 0 {
			return domain.ActionConfirmation{}, 0, domain.ErrConfirmationNotFound
		}
	}

	var conf domain.ActionConfirmation
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &conf)
	})
	if err != nil {
		return domain.ActionConfirmation{}, 0, fmt.Errorf("decode confirmation: %w", err)
	}
	return conf, remaining, nil
}

func storageKey(key domain.SessionKey) []byte {
	return []byte(keyPrefix + key.String())
}

// badgerLogger routes badger's internal logging through ports.Logger.
type badgerLogger struct {
	log ports.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error("badger", fmt.Errorf(format, args...), nil)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), map[string]interface{}{"component": "badger"})
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), map[string]interface{}{"component": "badger"})
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), map[string]interface{}{"component": "badger"})
}

var _ ports.ConfirmationStore = (*BadgerStore)(nil)
