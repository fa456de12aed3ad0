package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the Store interface with Redis: one JSON document per
// path, a set per list path indexing its child keys, and a pub/sub channel
// per path carrying change pings. ConditionalUpdate uses WATCH so a
// concurrent writer surfaces as ErrConflict instead of a lost update.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(addr, password string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, now: time.Now}
}

func (r *RedisStore) Close() error { return r.client.Close() }

// Ping is used by readiness probes.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func valKey(path string) string  { return "tla:v:" + path }
func idxKey(path string) string  { return "tla:i:" + path }
func chanKey(path string) string { return "tla:c:" + path }

func (r *RedisStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	b, err := r.client.Get(ctx, valKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *RedisStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.writePipe(ctx, pipe, path, value)
		return nil
	})
	return err
}

// writePipe queues the value write, the parent-index insert, and the change
// ping onto pipe.
func (r *RedisStore) writePipe(ctx context.Context, pipe redis.Pipeliner, path string, value json.RawMessage) {
	pipe.Set(ctx, valKey(path), []byte(value), 0)
	if parent := ParentPath(path); parent != "" {
		pipe.SAdd(ctx, idxKey(parent), path[len(parent)+1:])
	}
	pipe.Publish(ctx, chanKey(path), "w")
}

func (r *RedisStore) Update(ctx context.Context, path string, fields map[string]json.RawMessage) error {
	return r.ConditionalUpdate(ctx, path, func(current json.RawMessage, exists bool) (json.RawMessage, error) {
		obj := map[string]json.RawMessage{}
		if exists {
			if err := json.Unmarshal(current, &obj); err != nil {
				return nil, err
			}
		}
		for k, v := range fields {
			obj[k] = v
		}
		return json.Marshal(obj)
	})
}

func (r *RedisStore) Remove(ctx context.Context, path string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, valKey(path))
		if parent := ParentPath(path); parent != "" {
			pipe.SRem(ctx, idxKey(parent), path[len(parent)+1:])
		}
		pipe.Publish(ctx, chanKey(path), "d")
		return nil
	})
	return err
}

func (r *RedisStore) AppendChild(ctx context.Context, listPath string, value json.RawMessage) (string, error) {
	key := NewPushKey(r.now())
	if err := r.Write(ctx, listPath+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (r *RedisStore) List(ctx context.Context, listPath string) ([]ListItem, error) {
	keys, err := r.client.SMembers(ctx, idxKey(listPath)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	items := make([]ListItem, 0, len(keys))
	for _, k := range keys {
		b, err := r.client.Get(ctx, valKey(listPath+"/"+k)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // removed between SMEMBERS and GET
		}
		if err != nil {
			return nil, err
		}
		items = append(items, ListItem{Key: k, Value: b})
	}
	return items, nil
}

func (r *RedisStore) SubscribeValue(ctx context.Context, path string) (<-chan Snapshot, func(), error) {
	ps := r.client.Subscribe(ctx, chanKey(path))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	ch := make(chan Snapshot, 1)
	snap, err := r.snapshot(ctx, path)
	if err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	push(ch, snap)
	go func() {
		for range ps.Channel() {
			if s, err := r.snapshot(context.Background(), path); err == nil {
				push(ch, s)
			}
		}
		close(ch)
	}()
	return ch, func() { _ = ps.Close() }, nil
}

func (r *RedisStore) SubscribeList(ctx context.Context, listPath string) (<-chan []ListItem, func(), error) {
	// Child change pings land on per-child channels, so match the subtree.
	ps := r.client.PSubscribe(ctx, chanKey(listPath)+"/*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	ch := make(chan []ListItem, 1)
	items, err := r.List(ctx, listPath)
	if err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	push(ch, items)
	go func() {
		for range ps.Channel() {
			if items, err := r.List(context.Background(), listPath); err == nil {
				push(ch, items)
			}
		}
		close(ch)
	}()
	return ch, func() { _ = ps.Close() }, nil
}

func (r *RedisStore) ConditionalUpdate(ctx context.Context, path string, fn UpdateFn) error {
	key := valKey(path)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists, cur = false, nil
		} else if err != nil {
			return err
		}
		next, err := fn(cur, exists)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.writePipe(ctx, pipe, path, next)
			return nil
		})
		return err
	}
	err := r.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (r *RedisStore) snapshot(ctx context.Context, path string) (Snapshot, error) {
	v, err := r.Read(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{Exists: false}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Value: v, Exists: true}, nil
}
