package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"foodlink/pkg/platform/sentinel"
	"foodlink/pkg/requestcontext"
)

// Hash fields reserved for document metadata. Record fields never start with
// an underscore.
const (
	metaVersion = "_v"
	metaCreated = "_c"
	metaUpdated = "_u"
)

// Script status codes.
const (
	scriptMissing  = -1
	scriptConflict = -2
	scriptExists   = -3
)

// Every script takes KEYS = {doc hash, path index, group index} and
// ARGV = {member id, group member, now, ifVersion, field, value, ...}.
// Empty values delete the field. On success the script returns HGETALL.
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return -3 end
redis.call('HSET', KEYS[1], '_v', 1, '_c', ARGV[3], '_u', ARGV[3])
for i = 5, #ARGV, 2 do
	if ARGV[i+1] ~= '' then redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1]) end
end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[2])
return redis.call('HGETALL', KEYS[1])
`)

	setScript = redis.NewScript(`
local v = tonumber(redis.call('HGET', KEYS[1], '_v') or '0')
local c = redis.call('HGET', KEYS[1], '_c') or ARGV[3]
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], '_v', v + 1, '_c', c, '_u', ARGV[3])
for i = 5, #ARGV, 2 do
	if ARGV[i+1] ~= '' then redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1]) end
end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[2])
return redis.call('HGETALL', KEYS[1])
`)

	mergeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], '_v', 0, '_c', ARGV[3])
end
redis.call('HINCRBY', KEYS[1], '_v', 1)
redis.call('HSET', KEYS[1], '_u', ARGV[3])
for i = 5, #ARGV, 2 do
	if ARGV[i+1] == '' then
		redis.call('HDEL', KEYS[1], ARGV[i])
	else
		redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
	end
end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[2])
return redis.call('HGETALL', KEYS[1])
`)

	updateScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], '_v')
if not v then return -1 end
if ARGV[4] ~= '0' and v ~= ARGV[4] then return -2 end
redis.call('HINCRBY', KEYS[1], '_v', 1)
redis.call('HSET', KEYS[1], '_u', ARGV[3])
for i = 5, #ARGV, 2 do
	if ARGV[i+1] == '' then
		redis.call('HDEL', KEYS[1], ARGV[i])
	else
		redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
	end
end
return redis.call('HGETALL', KEYS[1])
`)

	deleteScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], '_v')
if not v then return -1 end
if ARGV[4] ~= '0' and v ~= ARGV[4] then return -2 end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[2])
return 1
`)
)

// RedisStore keeps each document in a hash, with set indexes per path and
// per subcollection name for List and QueryGroup. Writes are Lua scripts so
// version checks and index maintenance are atomic. Changes are published on
// a per-path channel.
type RedisStore struct {
	client *redis.Client
	prefix string
	buffer int
	logger *slog.Logger
}

type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func WithRedisWatchBuffer(n int) RedisOption {
	return func(s *RedisStore) { s.buffer = n }
}

func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) { s.logger = logger }
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "foodlink", logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) docKey(key Key) string      { return s.prefix + ":doc:" + key.String() }
func (s *RedisStore) pathIndex(path Path) string { return s.prefix + ":idx:" + path.String() }
func (s *RedisStore) groupIndex(sub string) string {
	return s.prefix + ":grp:" + sub
}
func (s *RedisStore) channel(path Path) string { return s.prefix + ":chg:" + path.String() }

func (s *RedisStore) scriptArgs(ctx context.Context, key Key, ifVersion int64, fields Fields) ([]string, []any) {
	keys := []string{s.docKey(key), s.pathIndex(key.Path), s.groupIndex(key.Subcollection)}
	now := requestcontext.Now(ctx).UTC().Format(time.RFC3339Nano)
	args := []any{key.ID, key.String(), now, strconv.FormatInt(ifVersion, 10)}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	slices.Sort(names)
	for _, k := range names {
		args = append(args, k, fields[k])
	}
	return keys, args
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	raw, err := s.client.HGetAll(ctx, s.docKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return hashDocument(key, raw)
}

func (s *RedisStore) Create(ctx context.Context, key Key, fields Fields) (*Document, error) {
	return s.write(ctx, createScript, "create", key, fields, AnyVersion)
}

func (s *RedisStore) Set(ctx context.Context, key Key, fields Fields) (*Document, error) {
	return s.write(ctx, setScript, "set", key, fields, AnyVersion)
}

func (s *RedisStore) Merge(ctx context.Context, key Key, fields Fields) (*Document, error) {
	return s.write(ctx, mergeScript, "merge", key, fields, AnyVersion)
}

func (s *RedisStore) Update(ctx context.Context, key Key, fields Fields, ifVersion int64) (*Document, error) {
	return s.write(ctx, updateScript, "update", key, fields, ifVersion)
}

func (s *RedisStore) write(ctx context.Context, script *redis.Script, op string, key Key, fields Fields, ifVersion int64) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	for k := range fields {
		if strings.HasPrefix(k, "_") {
			return nil, fmt.Errorf("%w: field %q is reserved", ErrInvalidKey, k)
		}
	}
	keys, args := s.scriptArgs(ctx, key, ifVersion, fields)
	res, err := script.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, key, err)
	}
	if err := scriptStatus(res); err != nil {
		return nil, err
	}
	flat, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("%s %s: unexpected script result %T", op, key, res)
	}
	doc, err := hashDocument(key, pairs(flat))
	if err != nil {
		return nil, err
	}
	typ := ChangeModified
	if doc.Version == 1 {
		typ = ChangeAdded
	}
	s.publish(ctx, typ, key)
	return doc, nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key, ifVersion int64) error {
	if err := key.Validate(); err != nil {
		return err
	}
	keys, args := s.scriptArgs(ctx, key, ifVersion, nil)
	res, err := deleteScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if err := scriptStatus(res); err != nil {
		return err
	}
	s.publish(ctx, ChangeRemoved, key)
	return nil
}

func scriptStatus(res any) error {
	code, ok := res.(int64)
	if !ok {
		return nil
	}
	switch code {
	case scriptMissing:
		return sentinel.ErrNotFound
	case scriptConflict:
		return sentinel.ErrConflict
	case scriptExists:
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, path Path) ([]*Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.pathIndex(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	keys := make([]Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, path.Doc(id))
	}
	return s.fetch(ctx, keys, nil)
}

func (s *RedisStore) QueryGroup(ctx context.Context, subcollection, field, value string) ([]*Document, error) {
	if err := validSegment("subcollection", subcollection); err != nil {
		return nil, err
	}
	members, err := s.client.SMembers(ctx, s.groupIndex(subcollection)).Result()
	if err != nil {
		return nil, fmt.Errorf("query group %s: %w", subcollection, err)
	}
	keys := make([]Key, 0, len(members))
	for _, m := range members {
		key, err := ParseKey(m)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed group index member", "member", m, "error", err)
			continue
		}
		keys = append(keys, key)
	}
	return s.fetch(ctx, keys, func(d *Document) bool { return d.Fields[field] == value })
}

// fetch pipelines HGETALL for keys. Index members whose hash is gone are
// skipped.
func (s *RedisStore) fetch(ctx context.Context, keys []Key, keep func(*Document) bool) ([]*Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.docKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	var out []*Document
	for i, cmd := range cmds {
		raw := cmd.Val()
		if len(raw) == 0 {
			continue
		}
		doc, err := hashDocument(keys[i], raw)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(doc) {
			out = append(out, doc)
		}
	}
	sortDocuments(out)
	return out, nil
}

type redisNotice struct {
	ID   string     `json:"id"`
	Type ChangeType `json:"type"`
}

func (s *RedisStore) publish(ctx context.Context, typ ChangeType, key Key) {
	payload, err := json.Marshal(redisNotice{ID: key.ID, Type: typ})
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.channel(key.Path), payload).Err(); err != nil {
		// the write already succeeded; watchers recover on their next resync
		s.logger.WarnContext(ctx, "publish record change failed", "key", key.String(), "error", err)
	}
}

// Watch subscribes to the path's change channel. Each notice is resolved to
// the current document before delivery. Every call owns its own subscription.
func (s *RedisStore) Watch(ctx context.Context, path Path) (<-chan Change, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	pubsub := s.client.Subscribe(ctx, s.channel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}
	h := newHub(s.buffer)
	out := h.subscribe(ctx, path)
	go func() {
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					h.resync(path)
					return
				}
				s.deliver(ctx, h, path, msg.Payload)
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) deliver(ctx context.Context, h *hub, path Path, payload string) {
	var notice redisNotice
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		s.logger.WarnContext(ctx, "malformed record change notice", "error", err)
		return
	}
	key := path.Doc(notice.ID)
	if notice.Type == ChangeRemoved {
		h.publish(Change{Type: ChangeRemoved, Key: key})
		return
	}
	doc, err := s.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return
	}
	if err != nil {
		h.resync(path)
		return
	}
	h.publish(Change{Type: notice.Type, Key: key, Doc: doc})
}

func pairs(flat []any) map[string]string {
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		out[k] = v
	}
	return out
}

func hashDocument(key Key, raw map[string]string) (*Document, error) {
	doc := &Document{Key: key, Fields: Fields{}}
	for k, v := range raw {
		switch k {
		case metaVersion:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("decode version of %s: %w", key, err)
			}
			doc.Version = n
		case metaCreated:
			doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
		case metaUpdated:
			doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
		default:
			doc.Fields[k] = v
		}
	}
	return doc, nil
}
