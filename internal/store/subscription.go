package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Subscription delivers changes under one parent path. The current children
// are replayed as puts before live changes.
type Subscription struct {
	C <-chan Change

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops delivery and waits for the forwarding goroutine. C is closed
// afterwards. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Subscribe listens on the parent's change channel. The subscription ends
// when ctx is done or Close is called.
func (s *Redis) Subscribe(ctx context.Context, parent string) (*Subscription, error) {
	parent = strings.Trim(parent, "/")
	if parent == "" {
		return nil, fmt.Errorf("%w: empty parent", ErrInvalidPath)
	}
	ps := s.rdb.Subscribe(ctx, s.channel(parent))
	// wait for the server to confirm before reading the initial state so no
	// change falls in between
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", parent, err)
	}
	initial, err := s.Children(ctx, parent)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Change, 64)
	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer close(out)
		defer ps.Close()

		for _, snap := range initial {
			c := Change{Type: ChangePut, Path: parent + "/" + snap.Key, Snapshot: snap}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c, ok := s.decodeChange(msg)
				if !ok {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

func (s *Redis) decodeChange(msg *redis.Message) (Change, bool) {
	var c Change
	if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
		s.log.Warn("malformed change", zap.String("channel", msg.Channel), zap.Error(err))
		return Change{}, false
	}
	return c, true
}
