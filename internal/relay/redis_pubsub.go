package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "live:session:"
	publishTTL    = 5 * time.Second
)

// redisFrame is the message published to Redis for cross-instance fan-out.
type redisFrame struct {
	Frame []byte `json:"frame"`
	At    int64  `json:"at"`
}

// RedisPubSub bridges session frames across relay instances via Redis
// pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session frames.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// PublishSessionFrame publishes a frame to the session's Redis channel.
func (r *RedisPubSub) PublishSessionFrame(sessionID uuid.UUID, frame []byte) error {
	channel := channelPrefix + sessionID.String()
	body, err := json.Marshal(redisFrame{Frame: frame, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	return r.client.Publish(ctx, channel, body).Err()
}

// SubscribeSession subscribes to a session's Redis channel and calls handler
// for each frame. Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeSession(sessionID uuid.UUID, handler func(frame []byte)) (cancel func(), err error) {
	channel := channelPrefix + sessionID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var f redisFrame
				if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
					continue
				}
				handler(f.Frame)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
