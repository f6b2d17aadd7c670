package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"studyforge-go/internal/model"
	"studyforge-go/pkg/log"
)

// cachedDocumentRepository 为阶段查询提供 Redis 读穿缓存，所有写操作都会使缓存失效。
// 每次写操作都会递增文档的版本键，回填缓存时 WATCH 版本键，期间有写入则放弃回填。
type cachedDocumentRepository struct {
	DocumentRepository
	redisClient redis.UniversalClient
	ttl         time.Duration
}

// NewCachedDocumentRepository 用 Redis 包装一个 DocumentRepository；ttl <= 0 时直接返回原仓库。
func NewCachedDocumentRepository(inner DocumentRepository, redisClient redis.UniversalClient, ttl time.Duration) DocumentRepository {
	if redisClient == nil || ttl <= 0 {
		return inner
	}
	return &cachedDocumentRepository{DocumentRepository: inner, redisClient: redisClient, ttl: ttl}
}

func stageKey(id string) string {
	return "document:stage:" + id
}

func stageVersionKey(id string) string {
	return "document:stage:ver:" + id
}

// GetStatus 优先读缓存，未命中时回源数据库并写回。
func (r *cachedDocumentRepository) GetStatus(ctx context.Context, id string) (*model.DocumentStatus, error) {
	raw, err := r.redisClient.Get(ctx, stageKey(id)).Bytes()
	if err == nil {
		var status model.DocumentStatus
		if jsonErr := json.Unmarshal(raw, &status); jsonErr == nil {
			return &status, nil
		}
	} else if err != redis.Nil {
		log.Warnf("[StageCache] 读取缓存失败, id: %s, err: %v", id, err)
	}

	var status *model.DocumentStatus
	var innerErr error
	watchErr := r.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		status, innerErr = r.DocumentRepository.GetStatus(ctx, id)
		if innerErr != nil {
			return nil
		}
		payload, jsonErr := json.Marshal(status)
		if jsonErr != nil {
			return nil
		}
		_, txErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, stageKey(id), payload, r.ttl)
			return nil
		})
		return txErr
	}, stageVersionKey(id))

	if innerErr != nil {
		return nil, innerErr
	}
	if status == nil {
		// WATCH 本身失败时还没有回源
		log.Warnf("[StageCache] 缓存不可用, 直接读取数据库, id: %s, err: %v", id, watchErr)
		return r.DocumentRepository.GetStatus(ctx, id)
	}
	switch {
	case watchErr == redis.TxFailedErr:
		log.Debugf("[StageCache] 回源期间文档被修改, 放弃回填, id: %s", id)
	case watchErr != nil:
		log.Warnf("[StageCache] 写入缓存失败, id: %s, err: %v", id, watchErr)
	}
	return status, nil
}

// invalidate 先递增版本键使进行中的回填失效，再删除缓存。
func (r *cachedDocumentRepository) invalidate(ctx context.Context, id string) {
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, stageVersionKey(id))
		pipe.Expire(ctx, stageVersionKey(id), r.ttl)
		pipe.Del(ctx, stageKey(id))
		return nil
	})
	if err != nil {
		log.Warnf("[StageCache] 清理缓存失败, id: %s, err: %v", id, err)
	}
}

func (r *cachedDocumentRepository) TransitionStage(ctx context.Context, id string, from, to model.Stage) (bool, error) {
	defer r.invalidate(ctx, id)
	return r.DocumentRepository.TransitionStage(ctx, id, from, to)
}

func (r *cachedDocumentRepository) UpdateStage(ctx context.Context, id string, stage model.Stage) error {
	defer r.invalidate(ctx, id)
	return r.DocumentRepository.UpdateStage(ctx, id, stage)
}

func (r *cachedDocumentRepository) MarkCompleted(ctx context.Context, id string, c Completion) error {
	defer r.invalidate(ctx, id)
	return r.DocumentRepository.MarkCompleted(ctx, id, c)
}

func (r *cachedDocumentRepository) MarkFailed(ctx context.Context, id string, diagnostic string) error {
	defer r.invalidate(ctx, id)
	return r.DocumentRepository.MarkFailed(ctx, id, diagnostic)
}

func (r *cachedDocumentRepository) ResetToPending(ctx context.Context, id string, from model.Stage, payloadKey string, fileSize int64) (bool, error) {
	defer r.invalidate(ctx, id)
	return r.DocumentRepository.ResetToPending(ctx, id, from, payloadKey, fileSize)
}

func (r *cachedDocumentRepository) ForceStage(ctx context.Context, id string, stage model.Stage, diagnostic string) error {
	defer r.invalidate(ctx, id)
	return r.DocumentRepository.ForceStage(ctx, id, stage, diagnostic)
}

func (r *cachedDocumentRepository) Delete(ctx context.Context, id string) error {
	defer r.invalidate(ctx, id)
	return r.DocumentRepository.Delete(ctx, id)
}
