package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sdko-org/hooksink/internal/capture"
)

const redisKeyPrefix = "hooksink:"

// RedisRequestLog keeps each history in a sorted set scored by a global
// INCR sequence, so concurrent appends stay ordered even if they land out of
// order, and add+trim run in one MULTI.
type RedisRequestLog struct {
	client *redis.Client
}

func NewRedisClient(ctx context.Context, host, port, username, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Username: username,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func NewRedisRequestLog(client *redis.Client) *RedisRequestLog {
	return &RedisRequestLog{client: client}
}

func historyKey(sessionID string) string {
	return redisKeyPrefix + "requests:" + sessionID
}

func (l *RedisRequestLog) Append(ctx context.Context, rec *capture.Record) (int, error) {
	seq, err := l.client.Incr(ctx, redisKeyPrefix+"seq").Uint64()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	rec.Seq = seq

	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	key := historyKey(rec.SessionID)
	var card *redis.IntCmd
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(seq), Member: data})
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-RetentionCap-1))
		card = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append request: %w", err)
	}
	return int(card.Val()), nil
}

func (l *RedisRequestLog) List(ctx context.Context, sessionID string) ([]capture.Record, error) {
	members, err := l.client.ZRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	records := make([]capture.Record, 0, len(members))
	for _, m := range members {
		var rec capture.Record
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *RedisRequestLog) Count(ctx context.Context, sessionID string) (int, error) {
	n, err := l.client.ZCard(ctx, historyKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return int(n), nil
}

func (l *RedisRequestLog) Purge(ctx context.Context, sessionID string) error {
	if err := l.client.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("purge requests: %w", err)
	}
	return nil
}

// SessionIDs lists every session id that currently has a history.
func (l *RedisRequestLog) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	prefix := historyKey("")
	iter := l.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan histories: %w", err)
	}
	return ids, nil
}
