package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/deskflow/deskflow/pkg/engine"
)

const defaultQueuePrefix = "deskflow:escalations"

// ErrQueueEmpty is returned by Pop when no escalation arrived in time.
var ErrQueueEmpty = errors.New("escalation queue is empty")

// RedisQueue is an Escalator that pushes escalations onto one Redis list per
// expert level. Experts' tooling consumes the lists with Pop.
type RedisQueue struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisQueue connects to addr ("host:port") and verifies the connection.
func NewRedisQueue(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisQueue, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := NewRedisQueueFromClient(client, logger)
	q.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return q, nil
}

func NewRedisQueueFromClient(client redis.UniversalClient, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client: client,
		prefix: defaultQueuePrefix,
		logger: logger.With("module", "redis_escalation_queue"),
	}
}

// Key returns the list holding escalations for level.
func (q *RedisQueue) Key(level string) string {
	return q.prefix + ":" + level
}

func (q *RedisQueue) Escalate(ctx context.Context, escalation engine.Escalation) error {
	data, err := json.Marshal(escalation)
	if err != nil {
		return fmt.Errorf("failed to encode escalation: %w", err)
	}

	if err := q.client.RPush(ctx, q.Key(escalation.Level), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue escalation for %s: %w", escalation.Level, err)
	}

	q.logger.InfoContext(ctx, "escalation enqueued",
		"level", escalation.Level, "run_id", escalation.RunID, "ticket_id", escalation.Ticket.ID)

	return nil
}

// Pop takes the oldest escalation for level, waiting up to wait for one.
func (q *RedisQueue) Pop(ctx context.Context, level string, wait time.Duration) (engine.Escalation, error) {
	result, err := q.client.BLPop(ctx, wait, q.Key(level)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return engine.Escalation{}, ErrQueueEmpty
		}

		return engine.Escalation{}, fmt.Errorf("failed to pop escalation: %w", err)
	}

	if len(result) < 2 {
		return engine.Escalation{}, ErrQueueEmpty
	}

	var escalation engine.Escalation
	if err := json.Unmarshal([]byte(result[1]), &escalation); err != nil {
		return engine.Escalation{}, fmt.Errorf("failed to decode escalation: %w", err)
	}

	return escalation, nil
}

// Len reports how many escalations wait at level.
func (q *RedisQueue) Len(ctx context.Context, level string) (int64, error) {
	return q.client.LLen(ctx, q.Key(level)).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
