package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"foodlink/pkg/platform/sentinel"
	txcontext "foodlink/pkg/platform/tx"
	"foodlink/pkg/requestcontext"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying document changes.
const NotifyChannel = "foodlink_record_changes"

// Schema creates the documents table. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection    TEXT        NOT NULL,
	owner_id      TEXT        NOT NULL,
	subcollection TEXT        NOT NULL,
	doc_id        TEXT        NOT NULL,
	fields        JSONB       NOT NULL DEFAULT '{}'::jsonb,
	version       BIGINT      NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection, owner_id, subcollection, doc_id)
);
CREATE INDEX IF NOT EXISTS documents_group_idx ON documents (subcollection);
`

const (
	pkWhere = `collection = $1 AND owner_id = $2 AND subcollection = $3 AND doc_id = $4`

	selectDocument = `SELECT fields, version, created_at, updated_at FROM documents WHERE ` + pkWhere

	insertDocument = `INSERT INTO documents (collection, owner_id, subcollection, doc_id, fields, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, jsonb_strip_nulls($5::jsonb), 1, $6, $6)
ON CONFLICT (collection, owner_id, subcollection, doc_id) DO NOTHING
RETURNING fields, version, created_at, updated_at`

	setDocument = `INSERT INTO documents (collection, owner_id, subcollection, doc_id, fields, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, jsonb_strip_nulls($5::jsonb), 1, $6, $6)
ON CONFLICT (collection, owner_id, subcollection, doc_id) DO UPDATE
SET fields = EXCLUDED.fields, version = documents.version + 1, updated_at = EXCLUDED.updated_at
RETURNING fields, version, created_at, updated_at`

	mergeDocument = `INSERT INTO documents (collection, owner_id, subcollection, doc_id, fields, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, jsonb_strip_nulls($5::jsonb), 1, $6, $6)
ON CONFLICT (collection, owner_id, subcollection, doc_id) DO UPDATE
SET fields = jsonb_strip_nulls(documents.fields || $5::jsonb), version = documents.version + 1, updated_at = EXCLUDED.updated_at
RETURNING fields, version, created_at, updated_at`

	updateDocument = `UPDATE documents
SET fields = jsonb_strip_nulls(fields || $5::jsonb), version = version + 1, updated_at = $6
WHERE ` + pkWhere + ` AND ($7::bigint = 0 OR version = $7::bigint)
RETURNING fields, version, created_at, updated_at`

	deleteDocument = `DELETE FROM documents WHERE ` + pkWhere + ` AND ($5::bigint = 0 OR version = $5::bigint)`

	selectVersion = `SELECT version FROM documents WHERE ` + pkWhere

	listDocuments = `SELECT doc_id, fields, version, created_at, updated_at FROM documents
WHERE collection = $1 AND owner_id = $2 AND subcollection = $3
ORDER BY doc_id`

	queryGroup = `SELECT collection, owner_id, doc_id, fields, version, created_at, updated_at FROM documents
WHERE subcollection = $1 AND COALESCE(fields->>$2, '') = $3
ORDER BY collection, owner_id, doc_id`

	notifyChange = `SELECT pg_notify($1, $2)`
)

// PostgresStore keeps documents as JSONB rows. Every write issues a
// pg_notify in the same transaction so watchers in any process see it after
// commit.
type PostgresStore struct {
	db        *sql.DB
	hub       *hub
	logger    *slog.Logger
	notify    bool
	listening atomic.Bool
}

type PostgresOption func(*PostgresStore)

func WithPostgresLogger(logger *slog.Logger) PostgresOption {
	return func(s *PostgresStore) { s.logger = logger }
}

// WithoutNotify skips pg_notify; watchers only see writes from this process.
func WithoutNotify() PostgresOption {
	return func(s *PostgresStore) { s.notify = false }
}

func WithPostgresWatchBuffer(n int) PostgresOption {
	return func(s *PostgresStore) { s.hub = newHub(n) }
}

func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, hub: newHub(0), logger: slog.Default(), notify: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate documents schema: %w", err)
	}
	return nil
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn with a transaction in ctx; store calls made with that ctx
// join it. Nested calls reuse the outer transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	row := s.conn(ctx).QueryRowContext(ctx, selectDocument, pkArgs(key)...)
	doc, err := scanDocument(key, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return doc, nil
}

func (s *PostgresStore) Create(ctx context.Context, key Key, fields Fields) (*Document, error) {
	return s.upsert(ctx, "create", insertDocument, key, fields.compact())
}

func (s *PostgresStore) Set(ctx context.Context, key Key, fields Fields) (*Document, error) {
	return s.upsert(ctx, "set", setDocument, key, fields.compact())
}

func (s *PostgresStore) Merge(ctx context.Context, key Key, fields Fields) (*Document, error) {
	return s.upsert(ctx, "merge", mergeDocument, key, fields)
}

func (s *PostgresStore) upsert(ctx context.Context, op, query string, key Key, fields Fields) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	body, err := encodePatch(fields)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()

	var doc *Document
	err = s.RunInTx(ctx, func(ctx context.Context) error {
		args := append(pkArgs(key), body, now)
		doc, err = scanDocument(key, s.conn(ctx).QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			// only the create path uses DO NOTHING
			return sentinel.ErrAlreadyUsed
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, key, err)
		}
		return s.notifyTx(ctx, changeTypeFor(doc), key)
	})
	if err != nil {
		return nil, err
	}
	s.publishLocal(Change{Type: changeTypeFor(doc), Key: key, Doc: doc.clone()})
	return doc, nil
}

func (s *PostgresStore) Update(ctx context.Context, key Key, fields Fields, ifVersion int64) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	body, err := encodePatch(fields)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()

	var doc *Document
	err = s.RunInTx(ctx, func(ctx context.Context) error {
		args := append(pkArgs(key), body, now, ifVersion)
		doc, err = scanDocument(key, s.conn(ctx).QueryRowContext(ctx, updateDocument, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return s.missOrConflict(ctx, key)
		}
		if err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
		return s.notifyTx(ctx, ChangeModified, key)
	})
	if err != nil {
		return nil, err
	}
	s.publishLocal(Change{Type: ChangeModified, Key: key, Doc: doc.clone()})
	return doc, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key Key, ifVersion int64) error {
	if err := key.Validate(); err != nil {
		return err
	}
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		res, err := s.conn(ctx).ExecContext(ctx, deleteDocument, append(pkArgs(key), ifVersion)...)
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		if n == 0 {
			return s.missOrConflict(ctx, key)
		}
		return s.notifyTx(ctx, ChangeRemoved, key)
	})
	if err != nil {
		return err
	}
	s.publishLocal(Change{Type: ChangeRemoved, Key: key})
	return nil
}

func (s *PostgresStore) missOrConflict(ctx context.Context, key Key) error {
	var version int64
	err := s.conn(ctx).QueryRowContext(ctx, selectVersion, pkArgs(key)...).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check version %s: %w", key, err)
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) List(ctx context.Context, path Path) ([]*Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).QueryContext(ctx, listDocuments, path.Collection, path.OwnerID, path.Subcollection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var (
			id  string
			raw []byte
			doc = &Document{}
		)
		if err := rows.Scan(&id, &raw, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		doc.Key = path.Doc(id)
		if doc.Fields, err = decodeFields(raw); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	return out, nil
}

func (s *PostgresStore) QueryGroup(ctx context.Context, subcollection, field, value string) ([]*Document, error) {
	if err := validSegment("subcollection", subcollection); err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).QueryContext(ctx, queryGroup, subcollection, field, value)
	if err != nil {
		return nil, fmt.Errorf("query group %s: %w", subcollection, err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var (
			collection, owner, id string
			raw                   []byte
			doc                   = &Document{}
		)
		if err := rows.Scan(&collection, &owner, &id, &raw, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group %s: %w", subcollection, err)
		}
		doc.Key = Key{Path: Path{Collection: collection, OwnerID: owner, Subcollection: subcollection}, ID: id}
		if doc.Fields, err = decodeFields(raw); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query group %s: %w", subcollection, err)
	}
	return out, nil
}

func (s *PostgresStore) Watch(ctx context.Context, path Path) (<-chan Change, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, path), nil
}

type changeNotice struct {
	Key  string     `json:"key"`
	Type ChangeType `json:"type"`
}

func (s *PostgresStore) notifyTx(ctx context.Context, typ ChangeType, key Key) error {
	if !s.notify {
		return nil
	}
	payload, err := json.Marshal(changeNotice{Key: key.String(), Type: typ})
	if err != nil {
		return err
	}
	if _, err := s.conn(ctx).ExecContext(ctx, notifyChange, NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", key, err)
	}
	return nil
}

// publishLocal feeds watchers directly until Listen takes over delivery.
func (s *PostgresStore) publishLocal(c Change) {
	if s.listening.Load() {
		return
	}
	s.hub.publish(c)
}

// Listen delivers notifications from every process to this store's watchers.
// It blocks until ctx is done. After a reconnect, watchers receive
// ChangeResync since notifications sent while disconnected are lost.
func (s *PostgresStore) Listen(ctx context.Context, dsn string) error {
	listener := pq.NewListener(dsn, 100*time.Millisecond, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.WarnContext(ctx, "record change listener event", "event", ev, "error", err)
		}
	})
	defer listener.Close()
	if err := listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	s.listening.Store(true)
	defer s.listening.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				s.hub.resyncAll()
				continue
			}
			s.dispatch(ctx, n.Extra)
		case <-time.After(90 * time.Second):
			if err := listener.Ping(); err != nil {
				s.logger.WarnContext(ctx, "record change listener ping failed", "error", err)
			}
		}
	}
}

func (s *PostgresStore) dispatch(ctx context.Context, payload string) {
	var notice changeNotice
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		s.logger.WarnContext(ctx, "malformed record change notice", "error", err)
		return
	}
	key, err := ParseKey(notice.Key)
	if err != nil {
		s.logger.WarnContext(ctx, "malformed record change key", "error", err)
		return
	}
	if !s.hub.watching(key.Path) {
		return
	}
	if notice.Type == ChangeRemoved {
		s.hub.publish(Change{Type: ChangeRemoved, Key: key})
		return
	}
	doc, err := s.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		// deleted before we read it; the removal notice follows
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "fetch changed document", "key", key.String(), "error", err)
		s.hub.resync(key.Path)
		return
	}
	s.hub.publish(Change{Type: notice.Type, Key: key, Doc: doc})
}

func changeTypeFor(doc *Document) ChangeType {
	if doc.Version == 1 {
		return ChangeAdded
	}
	return ChangeModified
}

func pkArgs(key Key) []any {
	return []any{key.Collection, key.OwnerID, key.Subcollection, key.ID}
}

// encodePatch renders fields as a JSON object; empty values become null so
// jsonb_strip_nulls removes them.
func encodePatch(fields Fields) (string, error) {
	obj := make(map[string]*string, len(fields))
	for k, v := range fields {
		if v == "" {
			obj[k] = nil
			continue
		}
		obj[k] = &v
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(raw), nil
}

func decodeFields(raw []byte) (Fields, error) {
	fields := Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(key Key, row rowScanner) (*Document, error) {
	var raw []byte
	doc := &Document{Key: key}
	if err := row.Scan(&raw, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	doc.Fields = fields
	return doc, nil
}
