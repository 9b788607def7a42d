// Package store keeps the realtime jeep records. Records live under slash
// separated paths such as "jeeps/<id>"; each path is a Redis hash whose fields
// hold JSON values, and every change is announced on a pub/sub channel of the
// parent path.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	JeepsRoot = "jeeps"
	InfoRoot  = "jeep_info"
)

var (
	ErrInvalidPath = errors.New("invalid store path")
	ErrNotFound    = errors.New("record not found")
)

// Sink is the realtime key-value store the trip layer writes to.
type Sink interface {
	Write(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
	ReadOnce(ctx context.Context, path string) (Snapshot, error)
	Children(ctx context.Context, path string) ([]Snapshot, error)
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

// Child joins a parent path and a child key.
func Child(parent, key string) string {
	return strings.Trim(parent, "/") + "/" + key
}

// Snapshot is the state of one path at read time.
type Snapshot struct {
	Key    string                     `json:"key"`
	Exists bool                       `json:"exists"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

// Decode unmarshals the snapshot's fields as one JSON object into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return fmt.Errorf("decode %q: %w", s.Key, ErrNotFound)
	}
	b, err := json.Marshal(s.Fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

type ChangeType string

const (
	ChangePut    ChangeType = "put"
	ChangeRemove ChangeType = "remove"
)

// Change is delivered to subscribers of a parent path.
type Change struct {
	Type     ChangeType `json:"type"`
	Path     string     `json:"path"`
	Snapshot Snapshot   `json:"snapshot"`
}

// Redis implements Sink on a go-redis client.
type Redis struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger
}

func NewRedis(rdb *redis.Client, prefix string, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rdb: rdb, prefix: strings.Trim(prefix, ":"), log: log}
}

// Ping checks the connection.
func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) key(path string) string        { return s.prefix + ":" + path }
func (s *Redis) indexKey(parent string) string { return s.prefix + ":children:" + parent }
func (s *Redis) channel(parent string) string  { return s.prefix + ":changes:" + parent }

// split validates path and returns its parent and last element.
func split(path string) (parent, key string, err error) {
	path = strings.Trim(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i <= 0 || i == len(path)-1 || strings.Contains(path, "//") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return path[:i], path[i+1:], nil
}

// Write merges fields into the record at path and notifies subscribers of
// the parent with the merged record.
func (s *Redis) Write(ctx context.Context, path string, fields map[string]any) error {
	parent, key, err := split(path)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	values := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", f, err)
		}
		values = append(values, f, string(b))
	}

	var all *redis.MapStringStringCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key(parent+"/"+key), values...)
		p.SAdd(ctx, s.indexKey(parent), key)
		all = p.HGetAll(ctx, s.key(parent+"/"+key))
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	snap := toSnapshot(key, all.Val())
	s.notify(ctx, parent, Change{Type: ChangePut, Path: parent + "/" + key, Snapshot: snap})
	return nil
}

// Remove deletes the record at path. Removing a missing record is not an error.
func (s *Redis) Remove(ctx context.Context, path string) error {
	parent, key, err := split(path)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key(parent+"/"+key))
		p.SRem(ctx, s.indexKey(parent), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	s.notify(ctx, parent, Change{Type: ChangeRemove, Path: parent + "/" + key, Snapshot: Snapshot{Key: key}})
	return nil
}

func (s *Redis) ReadOnce(ctx context.Context, path string) (Snapshot, error) {
	_, key, err := split(path)
	if err != nil {
		return Snapshot{}, err
	}
	m, err := s.rdb.HGetAll(ctx, s.key(strings.Trim(path, "/"))).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}
	return toSnapshot(key, m), nil
}

// Children lists the records directly under parent, sorted by key.
func (s *Redis) Children(ctx context.Context, parent string) ([]Snapshot, error) {
	parent = strings.Trim(parent, "/")
	if parent == "" {
		return nil, fmt.Errorf("%w: empty parent", ErrInvalidPath)
	}
	keys, err := s.rdb.SMembers(ctx, s.indexKey(parent)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", parent, err)
	}
	if len(keys) == 0 {
		return []Snapshot{}, nil
	}
	slices.Sort(keys)

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HGetAll(ctx, s.key(parent+"/"+k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", parent, err)
	}
	out := make([]Snapshot, 0, len(keys))
	for i, k := range keys {
		snap := toSnapshot(k, cmds[i].Val())
		if snap.Exists {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *Redis) notify(ctx context.Context, parent string, c Change) {
	b, err := json.Marshal(c)
	if err != nil {
		s.log.Error("encode change", zap.String("path", c.Path), zap.Error(err))
		return
	}
	if err := s.rdb.Publish(ctx, s.channel(parent), b).Err(); err != nil {
		s.log.Warn("redis publish error", zap.String("path", c.Path), zap.Error(err))
	}
}

func toSnapshot(key string, m map[string]string) Snapshot {
	if len(m) == 0 {
		return Snapshot{Key: key}
	}
	fields := make(map[string]json.RawMessage, len(m))
	for f, v := range m {
		fields[f] = json.RawMessage(v)
	}
	return Snapshot{Key: key, Exists: true, Fields: fields}
}
