package model

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("key not found")

// Txn is a read-write view over a KV backend.
type Txn interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte) error
	Delete(key string) error
	// Scan visits keys with the prefix in ascending order.
	Scan(prefix string, fn func(key string, val []byte) error) error
}

// KV is the backend under Store. Update applies all writes of fn or none.
type KV interface {
	View(fn func(tx Txn) error) error
	Update(fn func(tx Txn) error) error
	Close() error
}

type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) View(fn func(tx Txn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTxn{base: m.data, readonly: true})
}

func (m *MemoryKV) Update(fn func(tx Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTxn{
		base:    m.data,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.deletes {
		delete(m.data, k)
	}
	for k, v := range tx.writes {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryKV) Close() error {
	return nil
}

var errReadOnly = errors.New("write in read-only transaction")

type memTxn struct {
	base     map[string][]byte
	writes   map[string][]byte
	deletes  map[string]struct{}
	readonly bool
}

func (t *memTxn) Get(key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return v, nil
	}
	if _, ok := t.deletes[key]; ok {
		return nil, ErrNotFound
	}
	v, ok := t.base[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t *memTxn) Set(key string, val []byte) error {
	if t.readonly {
		return errReadOnly
	}
	delete(t.deletes, key)
	t.writes[key] = append([]byte(nil), val...)
	return nil
}

func (t *memTxn) Delete(key string) error {
	if t.readonly {
		return errReadOnly
	}
	delete(t.writes, key)
	t.deletes[key] = struct{}{}
	return nil
}

func (t *memTxn) Scan(prefix string, fn func(key string, val []byte) error) error {
	keys := make([]string, 0)
	seen := make(map[string]struct{})
	for k := range t.base {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			seen[k] = struct{}{}
		}
	}
	for k := range t.writes {
		if _, ok := seen[k]; !ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := t.Get(k)
		if errors.Is(err, ErrNotFound) {
			continue
		} else if err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}
