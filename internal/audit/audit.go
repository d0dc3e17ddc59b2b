// Package audit publishes authentication events to a Redis stream.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType names an authentication outcome
type EventType string

const (
	LoginSucceeded   EventType = "login.succeeded"
	LoginFailed      EventType = "login.failed"
	LoginLocked      EventType = "login.locked"
	TokenRefreshed   EventType = "token.refreshed"
	TokenReuseFound  EventType = "token.reuse_detected"
	TokenRevoked     EventType = "token.revoked"
	TokensRevokedAll EventType = "tokens.revoked_all"
)

// Event is one audit record. Raw tokens and passwords never go in Attrs.
type Event struct {
	Type       EventType
	UserID     string
	ClientIP   string
	OccurredAt time.Time
	Attrs      map[string]string
}

// Values flattens the event into stream fields
func (e Event) Values() map[string]any {
	values := map[string]any{
		"type":        string(e.Type),
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if e.UserID != "" {
		values["user_id"] = e.UserID
	}
	if e.ClientIP != "" {
		values["client_ip"] = e.ClientIP
	}
	for k, v := range e.Attrs {
		if _, reserved := values[k]; reserved {
			continue
		}
		values[k] = v
	}
	return values
}

// Publisher delivers audit events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Connect initializes a Redis client from a redis:// URL or a host:port address
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisPublisher appends events to a capped stream with XADD
type RedisPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisPublisher(client redis.UniversalClient, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: event.Values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Ping checks that the stream backend is reachable
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
