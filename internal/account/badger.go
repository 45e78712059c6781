// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package account

import (
	"context"
	"errors"
	"fmt"
	"io"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/gatewarden/gatewarden/internal/logging"
)

// Key layout:
//
//	acct:<id>          -> JSON-encoded Account
//	ident:<identifier> -> account ID
const (
	accountKeyPrefix    = "acct:"
	identifierKeyPrefix = "ident:"
)

// BadgerStore is a badger-backed Store for single-node deployments where
// the adopting system has no account database of its own.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's logger is too chatty; we log open/close ourselves

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}

	logging.Info().Str("path", path).Msg("Account store opened")
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Backup streams a full snapshot of the database to w and returns the
// version at which the snapshot was taken.
func (s *BadgerStore) Backup(w io.Writer) (uint64, error) {
	return s.db.Backup(w, 0)
}

// Create inserts a new account and its identifier index entry.
func (s *BadgerStore) Create(ctx context.Context, a *Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(accountKeyPrefix+a.ID), data); err != nil {
			return err
		}
		if a.Identifier == "" {
			return nil
		}
		return txn.Set([]byte(identifierKeyPrefix+a.Identifier), []byte(a.ID))
	})
}

// FindByID loads an account by ID.
func (s *BadgerStore) FindByID(ctx context.Context, id string) (*Account, error) {
	var a *Account
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(accountKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			a = &Account{}
			return json.Unmarshal(val, a)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return a, nil
}

// FindByIdentifier resolves the identifier index, then loads by ID.
func (s *BadgerStore) FindByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(identifierKeyPrefix + identifier))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve identifier: %w", err)
	}
	return s.FindByID(ctx, id)
}

// FindCached delegates to FindByID; badger reads are already local.
func (s *BadgerStore) FindCached(ctx context.Context, id string) (*Account, error) {
	return s.FindByID(ctx, id)
}

// Patch applies a partial update inside a single read-modify-write
// transaction.
func (s *BadgerStore) Patch(ctx context.Context, id string, p Patch) error {
	key := []byte(accountKeyPrefix + id)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var a Account
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		}); err != nil {
			return err
		}
		applyPatch(&a, p)
		data, err := json.Marshal(&a)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("patch account: %w", err)
	}
	return nil
}

// AddItemsCreated bumps the per-service create counter.
func (s *BadgerStore) AddItemsCreated(id, service string, n int) error {
	return s.mutateUsage(id, func(a *Account) {
		usageFor(a, service).ItemsCreated += n
	})
}

// AddCommandUse bumps the per-command usage counter.
func (s *BadgerStore) AddCommandUse(id, service, cmd string) error {
	return s.mutateUsage(id, func(a *Account) {
		u := usageFor(a, service)
		if u.CommandUses == nil {
			u.CommandUses = make(map[string]int)
		}
		u.CommandUses[cmd]++
	})
}

func usageFor(a *Account, service string) *ServiceUsage {
	if a.Usage == nil {
		a.Usage = make(map[string]*ServiceUsage)
	}
	u, ok := a.Usage[service]
	if !ok {
		u = &ServiceUsage{}
		a.Usage[service] = u
	}
	return u
}

func (s *BadgerStore) mutateUsage(id string, mutate func(*Account)) error {
	key := []byte(accountKeyPrefix + id)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var a Account
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		}); err != nil {
			return err
		}
		mutate(&a)
		data, err := json.Marshal(&a)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
