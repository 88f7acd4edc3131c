// Package records is the document store every workflow package writes to.
//
// Documents are flat field/value maps addressed by
// (collection, ownerId, subcollection, documentId), for example
// donors/{donorId}/notifications/{donationId}. There are no transactions across
// owners: each call is one independent write, and correctness comes from
// deterministic document ids plus versioned conditional writes.
//
// Adapters: InMemoryStore (tests, single-node), PostgresStore (JSONB rows,
// LISTEN/NOTIFY for watches), RedisStore (hashes, Lua for atomic CAS, pub/sub
// for watches). All adapters return pkg/platform/sentinel facts.
package records

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Top-level collections. Each owns one document per actor id.
const (
	CollectionDonors     = "donors"
	CollectionRecipients = "recipients"
	CollectionVolunteers = "volunteers"
)

// ErrInvalidKey marks a malformed path or document key.
var ErrInvalidKey = errors.New("invalid document key")

// AnyVersion disables the version precondition on Update and Delete; the
// document only has to exist.
const AnyVersion int64 = 0

// Path names one subcollection inside one owner's document.
type Path struct {
	Collection    string
	OwnerID       string
	Subcollection string
}

func (p Path) String() string {
	return p.Collection + "/" + p.OwnerID + "/" + p.Subcollection
}

// Doc returns the key of document id inside p.
func (p Path) Doc(id string) Key {
	return Key{Path: p, ID: id}
}

func (p Path) Validate() error {
	for _, seg := range []struct{ name, val string }{
		{"collection", p.Collection},
		{"owner id", p.OwnerID},
		{"subcollection", p.Subcollection},
	} {
		if err := validSegment(seg.name, seg.val); err != nil {
			return err
		}
	}
	return nil
}

// Key addresses a single document.
type Key struct {
	Path
	ID string
}

func (k Key) String() string {
	return k.Path.String() + "/" + k.ID
}

func (k Key) Validate() error {
	if err := k.Path.Validate(); err != nil {
		return err
	}
	return validSegment("document id", k.ID)
}

// ParseKey reverses Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	k := Key{Path: Path{Collection: parts[0], OwnerID: parts[1], Subcollection: parts[2]}, ID: parts[3]}
	return k, k.Validate()
}

func validSegment(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidKey, name)
	}
	if strings.ContainsAny(v, "/\x00") {
		return fmt.Errorf("%w: %s %q contains a reserved character", ErrInvalidKey, name, v)
	}
	return nil
}

// Fields is the flat field/value body of a document. In Merge and Update an
// empty value removes the field.
type Fields map[string]string

func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	return maps.Clone(f)
}

// applied returns base with patch merged over it.
func (f Fields) applied(patch Fields) Fields {
	out := f.Clone()
	for k, v := range patch {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// compact drops empty values so a created document never stores them.
func (f Fields) compact() Fields {
	return Fields{}.applied(f)
}

// Document is a stored record with its optimistic-concurrency version.
// Version starts at 1 and increases by one on every write.
type Document struct {
	Key       Key
	Fields    Fields
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *Document) clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Fields = d.Fields.Clone()
	return &c
}

// ChangeType classifies a watch notification.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
	// ChangeResync tells a subscriber it missed changes and should re-list.
	ChangeResync ChangeType = "resync"
)

// Change is pushed to watchers of a subcollection. Doc is nil for removals
// and resyncs.
type Change struct {
	Type ChangeType
	Key  Key
	Doc  *Document
}

// Store is the record store contract consumed by the workflow services.
type Store interface {
	// Get returns sentinel.ErrNotFound when the document does not exist.
	Get(ctx context.Context, key Key) (*Document, error)
	// Create writes a new document and returns sentinel.ErrAlreadyUsed if one
	// exists; the existing document is not touched.
	Create(ctx context.Context, key Key, fields Fields) (*Document, error)
	// Set replaces the document body, creating it when absent.
	Set(ctx context.Context, key Key, fields Fields) (*Document, error)
	// Merge upserts fields into the document, creating it when absent.
	Merge(ctx context.Context, key Key, fields Fields) (*Document, error)
	// Update merges fields into an existing document. With ifVersion other
	// than AnyVersion it is a compare-and-set and returns sentinel.ErrConflict
	// when the stored version differs.
	Update(ctx context.Context, key Key, fields Fields, ifVersion int64) (*Document, error)
	// Delete removes the document; same precondition rules as Update.
	Delete(ctx context.Context, key Key, ifVersion int64) error
	// List returns every document in a subcollection ordered by id.
	List(ctx context.Context, path Path) ([]*Document, error)
	// QueryGroup scans one subcollection name across all owners and returns
	// documents whose field equals value.
	QueryGroup(ctx context.Context, subcollection, field, value string) ([]*Document, error)
	// Watch streams changes to a subcollection until ctx is done. Slow
	// subscribers never block writers; they receive ChangeResync instead.
	Watch(ctx context.Context, path Path) (<-chan Change, error)
}
