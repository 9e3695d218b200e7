package model

import (
	"errors"

	badger "github.com/dgraph-io/badger/v4"
)

type BadgerKV struct {
	db *badger.DB
}

// NewBadgerKV opens a badger database in dir. An empty dir keeps it in memory.
func NewBadgerKV(dir string) (*BadgerKV, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) View(fn func(tx Txn) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

func (b *BadgerKV) Update(fn func(tx Txn) error) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}

type badgerTxn struct {
	txn *badger.Txn
}

func (t *badgerTxn) Get(key string) ([]byte, error) {
	item, err := t.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Set(key string, val []byte) error {
	return t.txn.Set([]byte(key), val)
}

func (t *badgerTxn) Delete(key string) error {
	return t.txn.Delete([]byte(key))
}

func (t *badgerTxn) Scan(prefix string, fn func(key string, val []byte) error) error {
	type kv struct {
		key string
		val []byte
	}
	var items []kv

	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 10
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			it.Close()
			return err
		}
		items = append(items, kv{key: string(item.KeyCopy(nil)), val: val})
	}
	it.Close()

	// the iterator is closed before fn runs so fn may write to the txn
	for _, item := range items {
		if err := fn(item.key, item.val); err != nil {
			return err
		}
	}
	return nil
}
