// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/babyfoot/apperr"
	"github.com/wfunc/babyfoot/broadcast"
)

// Document 存储中的一条文档，Data 为 JSON
type Document struct {
	Collection string
	ID         string
	Version    int64
	Fields     map[string]string
	Data       []byte
	UpdatedAt  time.Time
}

func (d *Document) snapshot() broadcast.Snapshot {
	return broadcast.Snapshot{Collection: d.Collection, ID: d.ID, Version: d.Version, Data: d.Data}
}

func (d *Document) clone() *Document {
	c := *d
	c.Data = append([]byte(nil), d.Data...)
	c.Fields = make(map[string]string, len(d.Fields))
	for k, v := range d.Fields {
		c.Fields[k] = v
	}
	return &c
}

type Op string

const (
	OpEq Op = "=="
	OpIn Op = "in"
)

// Filter matches documents whose indexed Field equals one of Values.
type Filter struct {
	Field  string
	Op     Op
	Values []string
}

func Eq(field, value string) Filter {
	return Filter{Field: field, Op: OpEq, Values: []string{value}}
}

func In(field string, values ...string) Filter {
	return Filter{Field: field, Op: OpIn, Values: values}
}

func (f Filter) matches(fields map[string]string) bool {
	v, ok := fields[f.Field]
	if !ok {
		return false
	}
	for _, want := range f.Values {
		if v == want {
			return true
		}
	}
	return false
}

// Store 文档存储接口
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Create stores a new document at version 1.
	Create(ctx context.Context, doc *Document) error
	// Update writes doc only if the stored version still equals
	// expectedVersion, then bumps doc.Version.
	Update(ctx context.Context, doc *Document, expectedVersion int64) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error)
	// Subscribe delivers a snapshot after every committed change to the
	// document. The returned cancel is idempotent.
	Subscribe(collection, id string, fn func(broadcast.Snapshot)) (cancel func())
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound  = apperr.NotFound("record not found")
	ErrAlreadyExists   = apperr.Conflict("record already exists")
	ErrVersionConflict = apperr.Conflict("document version conflict")
	ErrContention      = apperr.Conflict("document is being modified concurrently, try again")
	ErrUnknownField    = errors.New("field is not indexed")
)
