package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"receipt-scan-service/internal/entity"
	"receipt-scan-service/internal/logging"
)

type RedisPublisher struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisPublisher(rdb redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, snap entity.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, channelFor(p.prefix, snap.JobID), payload).Err()
}

func channelFor(prefix, jobID string) string {
	return prefix + ":" + jobID
}

// Relay pattern-subscribes to every job channel under prefix and feeds the Hub
// until ctx is done.
type Relay struct {
	rdb    redis.UniversalClient
	prefix string
	hub    *Hub
	log    *slog.Logger
}

func NewRelay(rdb redis.UniversalClient, prefix string, hub *Hub, log *slog.Logger) *Relay {
	return &Relay{rdb: rdb, prefix: prefix, hub: hub, log: logging.Component(log, "notify")}
}

func (r *Relay) Run(ctx context.Context) error {
	ps := r.rdb.PSubscribe(ctx, r.prefix+":*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	r.log.Info("progress relay subscribed", "pattern", r.prefix+":*")

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var snap entity.Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				r.log.Warn("drop malformed progress message", "channel", msg.Channel, logging.FieldError, err)
				continue
			}
			if snap.JobID == "" {
				snap.JobID = strings.TrimPrefix(msg.Channel, r.prefix+":")
			}
			r.hub.Broadcast(snap)
		}
	}
}
