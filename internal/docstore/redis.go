package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "docstore:"

func channelName(collection string) string {
	return channelPrefix + collection
}

func collectionFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, channelPrefix), true
}

// RedisNotifier publishes change signals over Redis pub/sub so every server
// instance sharing the database sees writes made by the others. Local
// listeners are kept in a Hub.
type RedisNotifier struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		hub:    NewHub(),
		logger: slog.Default().With("component", "docstore.redis"),
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, collection string) error {
	if err := n.client.Publish(ctx, channelName(collection), "changed").Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Listen(collection string, fn func()) func() {
	return n.hub.Listen(collection, fn)
}

// Run relays pub/sub messages to local listeners until ctx is done.
func (n *RedisNotifier) Run(ctx context.Context) error {
	sub := n.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	n.logger.Info("listening for document changes")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			collection, ok := collectionFromChannel(msg.Channel)
			if !ok {
				continue
			}
			n.hub.notify(collection)
		}
	}
}
