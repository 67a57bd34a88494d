package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warden-iam/warden/internal/rbac"
)

// RedisNotifier publishes template changes on Channel.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier wraps client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Publish implements Notifier.
func (n *RedisNotifier) Publish(ctx context.Context, role rbac.Role) error {
	if err := n.client.Publish(ctx, Channel, string(role)).Err(); err != nil {
		return fmt.Errorf("roles: publish: %w", err)
	}
	return nil
}

// Watcher keeps a catalog in step with the stored templates. It reloads on
// every message on Channel and on a resync interval.
type Watcher struct {
	client  *redis.Client
	repo    Repository
	catalog *rbac.Catalog
	logger  *slog.Logger
	resync  time.Duration
}

// NewWatcher constructs a Watcher. resync <= 0 uses DefaultResync.
func NewWatcher(client *redis.Client, repo Repository, catalog *rbac.Catalog, logger *slog.Logger, resync time.Duration) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if resync <= 0 {
		resync = DefaultResync
	}
	return &Watcher{client: client, repo: repo, catalog: catalog, logger: logger, resync: resync}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	sub := w.client.Subscribe(ctx, Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return fmt.Errorf("roles: subscribe: %w", err)
	}
	messages := sub.Channel()
	ticker := time.NewTicker(w.resync)
	defer ticker.Stop()

	w.logger.Info("role template watcher started", slog.String("channel", Channel), slog.Duration("resync", w.resync))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("roles: subscription closed")
			}
			w.reload(ctx, msg.Payload)
		case <-ticker.C:
			w.reload(ctx, "")
		}
	}
}

func (w *Watcher) reload(ctx context.Context, role string) {
	if err := reload(ctx, w.repo, w.catalog); err != nil {
		w.logger.Error("reload role templates", slog.String("role", role), slog.Any("error", err))
		return
	}
	w.logger.Debug("role templates reloaded",
		slog.String("role", role),
		slog.Int64("version", w.catalog.Snapshot().Version),
	)
}
