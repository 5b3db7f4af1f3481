package remote

import (
	"context"
	"fmt"
	"maps"
)

type docKey struct {
	collection string
	id         string
}

func (k docKey) String() string {
	return k.collection + "/" + k.id
}

// readState is the version a transaction saw; 0 means the document was absent.
type readState struct {
	version int64
	fields  map[string]any
}

type write struct {
	key    docKey
	fields map[string]any
}

// txn buffers writes and records read versions for DocStore.commit.
type txn struct {
	ctx    context.Context
	store  *DocStore
	reads  map[docKey]readState
	writes []write
}

func newTxn(ctx context.Context, s *DocStore) *txn {
	return &txn{
		ctx:   ctx,
		store: s,
		reads: make(map[docKey]readState),
	}
}

func (t *txn) Get(collection, id string) (map[string]any, bool, error) {
	if len(t.writes) > 0 {
		return nil, false, fmt.Errorf("transaction reads must happen before writes")
	}
	return t.get(collection, id)
}

func (t *txn) get(collection, id string) (map[string]any, bool, error) {
	if err := checkPath(collection, id); err != nil {
		return nil, false, err
	}
	key := docKey{collection, id}
	if seen, ok := t.reads[key]; ok {
		return maps.Clone(seen.fields), seen.version > 0, nil
	}

	fields, version, err := t.store.read(t.ctx, t.store.conn, collection, id)
	if err != nil {
		return nil, false, err
	}
	t.reads[key] = readState{version: version, fields: fields}
	return maps.Clone(fields), version > 0, nil
}

func (t *txn) Set(collection, id string, fields map[string]any) error {
	if err := checkPath(collection, id); err != nil {
		return err
	}
	t.writes = append(t.writes, write{key: docKey{collection, id}, fields: maps.Clone(fields)})
	return nil
}

func (t *txn) Update(collection, id string, fields map[string]any) error {
	current, exists, err := t.get(collection, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	// Apply earlier buffered writes to the same document first.
	key := docKey{collection, id}
	for _, w := range t.writes {
		if w.key == key {
			current = maps.Clone(w.fields)
		}
	}
	maps.Copy(current, fields)
	t.writes = append(t.writes, write{key: key, fields: current})
	return nil
}
