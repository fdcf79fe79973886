package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wfunc/babyfoot/broadcast"
)

// MaxAttempts bounds the optimistic retry loop in Mutate.
const MaxAttempts = 8

// ErrSkipWrite may be returned by a Mutate callback to return the current
// document without writing, e.g. for idempotent no-ops.
var ErrSkipWrite = errors.New("skip write")

// Entity is a typed document.
type Entity interface {
	DocumentID() string
	IndexedFields() map[string]string
}

func encode(collection string, v Entity) (*Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", collection, v.DocumentID(), err)
	}
	return &Document{
		Collection: collection,
		ID:         v.DocumentID(),
		Fields:     v.IndexedFields(),
		Data:       data,
	}, nil
}

// Decode unmarshals a stored document into T.
func Decode[T any](doc *Document) (*T, error) {
	var v T
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return &v, nil
}

// DecodeSnapshot unmarshals a published snapshot into T.
func DecodeSnapshot[T any](snap broadcast.Snapshot) (*T, error) {
	return Decode[T](&Document{Collection: snap.Collection, ID: snap.ID, Data: snap.Data})
}

// Load reads and decodes one document.
func Load[T any](ctx context.Context, s Store, collection, id string) (*T, error) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return Decode[T](doc)
}

// Insert creates v as a new document.
func Insert(ctx context.Context, s Store, collection string, v Entity) error {
	doc, err := encode(collection, v)
	if err != nil {
		return err
	}
	return s.Create(ctx, doc)
}

// Mutate applies fn to the current document and writes it back with a
// compare-and-swap on the version, re-reading and re-applying fn when another
// writer got there first. fn must be a pure function of its input: it may run
// several times. When fn fails nothing is written.
func Mutate[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s Store, collection, id string, fn func(PT) error) (PT, error) {
	v, _, err := MutateWritten[T, PT](ctx, s, collection, id, fn)
	return v, err
}

// MutateWritten is Mutate that also reports whether this call wrote a new
// version. It is false when fn returned ErrSkipWrite.
func MutateWritten[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s Store, collection, id string, fn func(PT) error) (PT, bool, error) {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		doc, err := s.Get(ctx, collection, id)
		if err != nil {
			return nil, false, err
		}
		v, err := Decode[T](doc)
		if err != nil {
			return nil, false, err
		}
		p := PT(v)
		if err := fn(p); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				return p, false, nil
			}
			return nil, false, err
		}

		next, err := encode(collection, p)
		if err != nil {
			return nil, false, err
		}
		err = s.Update(ctx, next, doc.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return p, true, nil
	}
	return nil, false, fmt.Errorf("%s/%s: %w", collection, id, ErrContention)
}

// QueryAll decodes every document matching filters.
func QueryAll[T any](ctx context.Context, s Store, collection string, filters ...Filter) ([]*T, error) {
	docs, err := s.Query(ctx, collection, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
