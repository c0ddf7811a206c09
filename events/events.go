// Package events publishes provisioning progress for dashboards and
// operators tailing a run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one step transition of one tenant.
type Event struct {
	RunID   string    `json:"run_id"`
	Tenant  string    `json:"tenant"`
	Step    string    `json:"step"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher receives step events.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Topic is the Redis channel carrying events for tenant.
func Topic(tenant string) string {
	return fmt.Sprintf("arcweb:provision:%s:events", tenant)
}

// RedisPublisher publishes events as JSON on the tenant topic.
type RedisPublisher struct {
	redis *redis.Client
	log   *slog.Logger
}

// NewRedisPublisher returns a publisher backed by redisClient.
func NewRedisPublisher(redisClient *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		redis: redisClient,
		log:   slog.Default().With("component", "events"),
	}
}

// Publish never fails the caller; errors are logged.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	if p.redis == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("failed to marshal provision event", "tenant", ev.Tenant, "err", err)
		return
	}
	if err := p.redis.Publish(ctx, Topic(ev.Tenant), payload).Err(); err != nil {
		p.log.Error("failed to publish provision event", "tenant", ev.Tenant, "step", ev.Step, "err", err)
	}
}
