// Package remote defines the cloud document store consumed by the sync engine
// and provides a SQL-backed implementation of it.
//
// Documents are flat JSON field maps addressed by (collection, id).
// Collections are slash-separated paths such as "history" or
// "quizzes/geral/questions".
package remote

import "context"

// Document is a query result: a document id and its fields.
type Document struct {
	ID     string
	Fields map[string]any
}

// Filter matches documents whose field equals Value.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	// Filters are ANDed together
	Filters []Filter
	// OrderBy is a field name (empty = document id)
	OrderBy string
	// Desc reverses the ordering
	Desc bool
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Store is the remote document store.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// AddDocument stores fields under a new auto-assigned id and returns it.
	AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error)

	// GetDocument returns a document's fields, or ErrNotFound.
	GetDocument(ctx context.Context, collection, id string) (map[string]any, error)

	// SetDocument creates or replaces the document at a caller-chosen id.
	SetDocument(ctx context.Context, collection, id string, fields map[string]any) error

	// QueryCollection returns the documents matching q.
	QueryCollection(ctx context.Context, q Query) ([]Document, error)

	// RunTransaction runs fn as one atomic read-modify-write unit.
	//
	// fn may call Get, Set and Update any number of times; reads must come
	// before writes. If another writer changes a document fn read before the
	// commit lands, the whole of fn runs again. An error returned by fn
	// aborts the transaction without retry and is returned as is.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Txn) error) error
}

// Txn is the view of the store inside RunTransaction.
type Txn interface {
	// Get returns a document's fields and whether it exists.
	Get(collection, id string) (map[string]any, bool, error)

	// Set buffers a full replacement of the document.
	Set(collection, id string, fields map[string]any) error

	// Update buffers a merge of fields into an existing document.
	// It fails with ErrNotFound if the document doesn't exist.
	Update(collection, id string, fields map[string]any) error
}
