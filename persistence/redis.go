// persistence/redis.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/babyfoot/apperr"
	"github.com/wfunc/babyfoot/broadcast"
	"github.com/wfunc/babyfoot/logger"
)

const redisPrefix = "babyfoot:"

// redisEnvelope 是存入 Redis 的文档结构
type redisEnvelope struct {
	Version   int64             `json:"version"`
	Fields    map[string]string `json:"fields"`
	Data      json.RawMessage   `json:"data"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// RedisStore keeps each document under one key and maintains a set per
// indexed field value. Writes use WATCH/MULTI so Update is a CAS on the
// stored version; changes fan out to other nodes over Redis pub/sub.
type RedisStore struct {
	rdb    *redis.Client
	hub    broadcast.Broadcaster
	pubsub *redis.PubSub
	done   chan struct{}
}

// OpenRedisStore connects using a redis:// or rediss:// URL.
func OpenRedisStore(ctx context.Context, url string, hub broadcast.Broadcaster) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, unavailable(fmt.Errorf("redis ping: %w", err))
	}
	return NewRedisStore(ctx, rdb, hub), nil
}

func NewRedisStore(ctx context.Context, rdb *redis.Client, hub broadcast.Broadcaster) *RedisStore {
	if hub == nil {
		hub = broadcast.NewHub()
	}
	r := &RedisStore{
		rdb:    rdb,
		hub:    hub,
		pubsub: rdb.Subscribe(ctx, redisPrefix+"changes"),
		done:   make(chan struct{}),
	}
	go r.watchChanges()
	return r
}

func docKey(collection, id string) string {
	return redisPrefix + "doc:" + collection + ":" + id
}

func indexKey(collection, field, value string) string {
	return redisPrefix + "idx:" + collection + ":" + field + ":" + value
}

func allKey(collection string) string {
	return redisPrefix + "all:" + collection
}

func decodeEnvelope(collection, id string, raw []byte) (*Document, error) {
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return &Document{
		Collection: collection,
		ID:         id,
		Version:    env.Version,
		Fields:     env.Fields,
		Data:       []byte(env.Data),
		UpdatedAt:  env.UpdatedAt,
	}, nil
}

func encodeEnvelope(doc *Document) ([]byte, error) {
	return json.Marshal(redisEnvelope{
		Version:   doc.Version,
		Fields:    doc.Fields,
		Data:      json.RawMessage(doc.Data),
		UpdatedAt: doc.UpdatedAt,
	})
}

func readDoc(ctx context.Context, c redis.Cmdable, collection, id string) (*Document, error) {
	raw, err := c.Get(ctx, docKey(collection, id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return decodeEnvelope(collection, id, raw)
}

func (r *RedisStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	return readDoc(ctx, r.rdb, collection, id)
}

func (r *RedisStore) Create(ctx context.Context, doc *Document) error {
	key := docKey(doc.Collection, doc.ID)
	doc.Version = 1
	doc.UpdatedAt = time.Now()
	raw, err := encodeEnvelope(doc)
	if err != nil {
		return err
	}

	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return unavailable(err)
		}
		if n > 0 {
			return fmt.Errorf("%s/%s: %w", doc.Collection, doc.ID, ErrAlreadyExists)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.SAdd(ctx, allKey(doc.Collection), doc.ID)
			for field, value := range doc.Fields {
				pipe.SAdd(ctx, indexKey(doc.Collection, field, value), doc.ID)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%s/%s: %w", doc.Collection, doc.ID, ErrAlreadyExists)
	}
	if err != nil {
		return wrapRedis(err)
	}
	r.published(ctx, doc.snapshot())
	return nil
}

func (r *RedisStore) Update(ctx context.Context, doc *Document, expectedVersion int64) error {
	key := docKey(doc.Collection, doc.ID)
	next := doc.clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()
	raw, err := encodeEnvelope(next)
	if err != nil {
		return err
	}

	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readDoc(ctx, tx, doc.Collection, doc.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			for field, value := range current.Fields {
				if next.Fields[field] != value {
					pipe.SRem(ctx, indexKey(doc.Collection, field, value), doc.ID)
				}
			}
			for field, value := range next.Fields {
				pipe.SAdd(ctx, indexKey(doc.Collection, field, value), doc.ID)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil {
		return wrapRedis(err)
	}
	doc.Version = next.Version
	doc.UpdatedAt = next.UpdatedAt
	r.published(ctx, doc.snapshot())
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, collection, id string) error {
	key := docKey(collection, id)
	var version int64
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readDoc(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		version = current.Version
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, allKey(collection), id)
			for field, value := range current.Fields {
				pipe.SRem(ctx, indexKey(collection, field, value), id)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil {
		return wrapRedis(err)
	}
	r.published(ctx, broadcast.Snapshot{Collection: collection, ID: id, Version: version + 1, Deleted: true})
	return nil
}

// Query intersects the id sets of every filter; an In filter is the union of
// its values' sets.
func (r *RedisStore) Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error) {
	var ids []string
	var err error
	if len(filters) == 0 {
		ids, err = r.rdb.SMembers(ctx, allKey(collection)).Result()
		if err != nil {
			return nil, unavailable(err)
		}
	} else {
		var matched map[string]bool
		for _, f := range filters {
			keys := make([]string, 0, len(f.Values))
			for _, v := range f.Values {
				keys = append(keys, indexKey(collection, f.Field, v))
			}
			members, err := r.rdb.SUnion(ctx, keys...).Result()
			if err != nil {
				return nil, unavailable(err)
			}
			set := make(map[string]bool, len(members))
			for _, m := range members {
				if matched == nil || matched[m] {
					set[m] = true
				}
			}
			matched = set
		}
		for id := range matched {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(collection, id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	docs := make([]*Document, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// 索引与文档之间存在短暂不一致
			continue
		}
		doc, err := decodeEnvelope(collection, ids[i], []byte(s))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *RedisStore) Subscribe(collection, id string, fn func(broadcast.Snapshot)) func() {
	return r.hub.Subscribe(broadcast.Topic(collection, id), fn)
}

func (r *RedisStore) published(ctx context.Context, snap broadcast.Snapshot) {
	r.hub.Publish(snap)
	payload, err := json.Marshal(change{Collection: snap.Collection, ID: snap.ID, Version: snap.Version, Deleted: snap.Deleted})
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, redisPrefix+"changes", payload).Err(); err != nil {
		logger.Log.Warnf("redis publish %s/%s: %v", snap.Collection, snap.ID, err)
	}
}

func (r *RedisStore) watchChanges() {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var c change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				continue
			}
			if c.Deleted {
				r.hub.Publish(broadcast.Snapshot{Collection: c.Collection, ID: c.ID, Version: c.Version, Deleted: true})
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			doc, err := r.Get(ctx, c.Collection, c.ID)
			cancel()
			if err == nil {
				r.hub.Publish(doc.snapshot())
			}
		}
	}
}

// wrapRedis keeps domain errors raised inside WATCH callbacks and maps
// everything else to store unavailability.
func wrapRedis(err error) error {
	if errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrVersionConflict) {
		return err
	}
	if errors.Is(err, apperr.ErrStoreUnavailable) {
		return err
	}
	return unavailable(err)
}

func (r *RedisStore) Close() error {
	close(r.done)
	r.pubsub.Close()
	return r.rdb.Close()
}
