package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/haricheung/overseer/internal/types"
)

// Redis is the remote tier. The audit log is a list kept newest-first with
// LPUSH and bounded with LTRIM in the same transaction.
type Redis struct {
	client     *redis.Client
	auditKey   string
	pendingKey string
}

// NewRedis creates a remote tier. Keys are namespaced under prefix
// (default "overseer").
func NewRedis(addr, password string, db int, prefix string) *Redis {
	if prefix == "" {
		prefix = "overseer"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{
		client:     rdb,
		auditKey:   prefix + ":audit",
		pendingKey: prefix + ":pending",
	}
}

// Ping reports whether the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) AppendAudit(ctx context.Context, e types.AuditEntry, bound int) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("memory: marshal audit entry: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, r.auditKey, data)
		if bound > 0 {
			p.LTrim(ctx, r.auditKey, 0, int64(bound-1))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("memory: redis append audit: %w", err)
	}
	return nil
}

func (r *Redis) RecentAudit(ctx context.Context, n int) ([]types.AuditEntry, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}
	raw, err := r.client.LRange(ctx, r.auditKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("memory: redis recent audit: %w", err)
	}
	out := make([]types.AuditEntry, 0, len(raw))
	for _, s := range raw {
		var e types.AuditEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Redis) SavePending(ctx context.Context, items []types.PendingApproval) error {
	if items == nil {
		items = []types.PendingApproval{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("memory: marshal pending: %w", err)
	}
	if err := r.client.Set(ctx, r.pendingKey, data, 0).Err(); err != nil {
		return fmt.Errorf("memory: redis save pending: %w", err)
	}
	return nil
}

func (r *Redis) LoadPending(ctx context.Context) ([]types.PendingApproval, error) {
	data, err := r.client.Get(ctx, r.pendingKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: redis load pending: %w", err)
	}
	var items []types.PendingApproval
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("memory: unmarshal pending: %w", err)
	}
	return items, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
