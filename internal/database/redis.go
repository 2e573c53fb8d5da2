package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/kite-relay/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	idMappingPrefix  = "kite:idmap:"
	unansweredPrefix = "kite:unanswered:"
)

// RedisIdMapper stores id mappings as JSON strings that expire after ttl.
type RedisIdMapper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisIdMapper(client redis.UniversalClient, ttl time.Duration) *RedisIdMapper {
	return &RedisIdMapper{client: client, ttl: ttl}
}

func idMappingRedisKey(from types.MemberId, originId string, destination types.ProviderId) string {
	return fmt.Sprintf("%s%s:%s:%s", idMappingPrefix, from, destination, originId)
}

func (r *RedisIdMapper) FindIdMapping(ctx context.Context, from types.MemberId, originId string, destination types.ProviderId) (IdMapping, error) {
	raw, err := r.client.Get(ctx, idMappingRedisKey(from, originId, destination)).Bytes()
	if errors.Is(err, redis.Nil) {
		return IdMapping{}, ErrNotFound
	}
	if err != nil {
		return IdMapping{}, fmt.Errorf("get id mapping: %w", err)
	}

	var mapping IdMapping
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return IdMapping{}, fmt.Errorf("decode id mapping: %w", err)
	}
	return mapping, nil
}

func (r *RedisIdMapper) AppendIdMapping(ctx context.Context, mapping IdMapping) (IdMapping, error) {
	raw, err := json.Marshal(mapping)
	if err != nil {
		return IdMapping{}, fmt.Errorf("encode id mapping: %w", err)
	}

	key := idMappingRedisKey(mapping.From, mapping.OriginId, mapping.DestinationProvider)
	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return IdMapping{}, fmt.Errorf("set id mapping: %w", err)
	}
	return mapping, nil
}

func (r *RedisIdMapper) DeleteIdMapping(ctx context.Context, from types.MemberId, originId string, destination types.ProviderId) error {
	return r.client.Del(ctx, idMappingRedisKey(from, originId, destination)).Err()
}

// RedisUnanswered keeps one hash per channel, keyed by member raw id, so a
// dropped channel is purged with a single DEL.
type RedisUnanswered struct {
	client redis.UniversalClient
}

func NewRedisUnanswered(client redis.UniversalClient) *RedisUnanswered {
	return &RedisUnanswered{client: client}
}

func (r *RedisUnanswered) AddUnansweredMessage(ctx context.Context, member types.MemberId, messageId string) error {
	return r.client.HSet(ctx, unansweredPrefix+member.Channel, member.Raw, messageId).Err()
}

func (r *RedisUnanswered) UnansweredMessage(ctx context.Context, member types.MemberId) (string, error) {
	id, err := r.client.HGet(ctx, unansweredPrefix+member.Channel, member.Raw).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return id, err
}

func (r *RedisUnanswered) DeleteUnansweredMessage(ctx context.Context, member types.MemberId) error {
	return r.client.HDel(ctx, unansweredPrefix+member.Channel, member.Raw).Err()
}

func (r *RedisUnanswered) DeleteUnansweredMessages(ctx context.Context, channelName string) error {
	return r.client.Del(ctx, unansweredPrefix+channelName).Err()
}
