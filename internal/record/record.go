// Package record persists local game sessions as versioned JSON records in
// a storage.Store. Every record key lives under a namespace so the table
// can be shared with unrelated keys.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"gamecore/internal/game"
	"gamecore/internal/gameerr"
	"gamecore/internal/model"
	"gamecore/internal/storage"
)

// Version is the record schema version written by Save.
const Version = 1

// DefaultNamespace prefixes every key when Config.Namespace is empty.
const DefaultNamespace = "gamecore/"

// Config controls key layout and retry.
type Config struct {
	Namespace    string
	MaxTries     uint
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.MaxTries == 0 {
		c.MaxTries = 4
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 20 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = time.Second
	}
	return c
}

// Meta is the index entry of a saved session.
type Meta struct {
	ID        string       `json:"id"`
	Variant   string       `json:"variant"`
	Status    model.Status `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type envelope struct {
	V       int            `json:"v"`
	Session *model.Session `json:"session"`
}

// Store is the persistent session store.
type Store struct {
	kv       *storage.Store
	variants *game.Registry
	cfg      Config
	log      *zap.Logger
}

// New creates a record store over kv. variants is used to check payloads
// on load.
func New(kv *storage.Store, variants *game.Registry, cfg Config, log *zap.Logger) *Store {
	return &Store{kv: kv, variants: variants, cfg: cfg.withDefaults(), log: log}
}

func (s *Store) sessionKey(id string) string { return s.cfg.Namespace + "session/" + id }
func (s *Store) indexKey() string            { return s.cfg.Namespace + "index" }
func (s *Store) quarantineKey() string       { return s.cfg.Namespace + "quarantine" }

// Save writes the whole record and its index entry in one transaction.
// Only local sessions are accepted.
func (s *Store) Save(ctx context.Context, sess *model.Session) error {
	if sess.Mode != model.ModeLocal {
		return gameerr.Newf(gameerr.ErrPersistence, "save", sess.ID, "only local sessions are persisted, got %s", sess.Mode)
	}
	if err := sess.Validate(); err != nil {
		return gameerr.New(gameerr.ErrPersistence, "save", sess.ID, err)
	}
	data, err := json.Marshal(envelope{V: Version, Session: sess})
	if err != nil {
		return gameerr.New(gameerr.ErrPersistence, "save", sess.ID, err)
	}
	meta := Meta{ID: sess.ID, Variant: sess.Variant, Status: sess.Status, CreatedAt: sess.CreatedAt, UpdatedAt: sess.UpdatedAt}

	err = s.retry(ctx, func() error {
		return s.kv.Update(ctx, func(tx *storage.Tx) error {
			if err := tx.Put(s.sessionKey(sess.ID), data); err != nil {
				return err
			}
			index, err := readIndex(tx, s.indexKey())
			if err != nil {
				return err
			}
			index[sess.ID] = meta
			return writeJSON(tx, s.indexKey(), index)
		})
	})
	if err != nil {
		return gameerr.New(gameerr.ErrPersistence, "save", sess.ID, err)
	}
	return nil
}

// Load reads and validates a record. A record that fails validation is
// quarantined and reported as gameerr.ErrStateCorruption.
func (s *Store) Load(ctx context.Context, id string) (*model.Session, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.kv.Get(ctx, s.sessionKey(id))
		if errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, gameerr.New(gameerr.ErrNotFound, "load", id, nil)
	}
	if err != nil {
		return nil, gameerr.New(gameerr.ErrPersistence, "load", id, err)
	}

	sess, err := s.decode(id, data)
	if err != nil {
		s.log.Error("quarantining corrupt session record", zap.String("id", id), zap.Error(err))
		if qerr := s.quarantine(ctx, id); qerr != nil {
			s.log.Error("quarantine failed", zap.String("id", id), zap.Error(qerr))
		}
		return nil, gameerr.New(gameerr.ErrStateCorruption, "load", id, err)
	}
	return sess, nil
}

func (s *Store) decode(id string, data []byte) (*model.Session, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if env.V != Version {
		return nil, fmt.Errorf("unsupported record version %d", env.V)
	}
	sess := env.Session
	if sess == nil {
		return nil, errors.New("record has no session")
	}
	if sess.ID != id {
		return nil, fmt.Errorf("record holds session %q", sess.ID)
	}
	if sess.Mode != model.ModeLocal {
		return nil, fmt.Errorf("record holds a %s session", sess.Mode)
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	v, err := s.variants.Lookup(sess.Variant)
	if err != nil {
		return nil, err
	}
	if len(sess.Payload) > 0 {
		if _, err := v.Decode(sess.Payload); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// Delete removes a record and its index entry. Deleting an absent id is a
// no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.retry(ctx, func() error {
		return s.kv.Update(ctx, func(tx *storage.Tx) error {
			if err := tx.Delete(s.sessionKey(id)); err != nil {
				return err
			}
			index, err := readIndex(tx, s.indexKey())
			if err != nil {
				return err
			}
			if _, ok := index[id]; ok {
				delete(index, id)
				if err := writeJSON(tx, s.indexKey(), index); err != nil {
					return err
				}
			}
			q, err := readQuarantine(tx, s.quarantineKey())
			if err != nil {
				return err
			}
			if i := slices.Index(q, id); i >= 0 {
				return writeJSON(tx, s.quarantineKey(), slices.Delete(q, i, i+1))
			}
			return nil
		})
	})
	if err != nil {
		return gameerr.New(gameerr.ErrPersistence, "delete", id, err)
	}
	return nil
}

// ListAll returns the index entries of every saved, non-quarantined
// session, oldest first.
func (s *Store) ListAll(ctx context.Context) ([]Meta, error) {
	var metas []Meta
	err := s.retry(ctx, func() error {
		metas = nil
		return s.kv.Update(ctx, func(tx *storage.Tx) error {
			index, err := readIndex(tx, s.indexKey())
			if err != nil {
				return err
			}
			q, err := readQuarantine(tx, s.quarantineKey())
			if err != nil {
				return err
			}
			for id, m := range index {
				if !slices.Contains(q, id) {
					metas = append(metas, m)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, gameerr.New(gameerr.ErrPersistence, "list", "", err)
	}
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.Before(metas[j].CreatedAt)
		}
		return metas[i].ID < metas[j].ID
	})
	return metas, nil
}

// Quarantined returns the ids of records that failed validation.
func (s *Store) Quarantined(ctx context.Context) ([]string, error) {
	data, err := s.kv.Get(ctx, s.quarantineKey())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, gameerr.New(gameerr.ErrPersistence, "quarantined", "", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, gameerr.New(gameerr.ErrStateCorruption, "quarantined", "", err)
	}
	return ids, nil
}

func (s *Store) quarantine(ctx context.Context, id string) error {
	return s.retry(ctx, func() error {
		return s.kv.Update(ctx, func(tx *storage.Tx) error {
			q, err := readQuarantine(tx, s.quarantineKey())
			if err != nil {
				return err
			}
			if slices.Contains(q, id) {
				return nil
			}
			return writeJSON(tx, s.quarantineKey(), append(q, id))
		})
	})
}

// retry runs op with capped exponential backoff.
func (s *Store) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxInterval = s.cfg.RetryMax
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.cfg.MaxTries))
	return err
}

func readIndex(tx *storage.Tx, key string) (map[string]Meta, error) {
	index := make(map[string]Meta)
	data, err := tx.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return index, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode index: %w", err))
	}
	return index, nil
}

func readQuarantine(tx *storage.Tx, key string) ([]string, error) {
	data, err := tx.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode quarantine set: %w", err))
	}
	return ids, nil
}

func writeJSON(tx *storage.Tx, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Put(key, data)
}
