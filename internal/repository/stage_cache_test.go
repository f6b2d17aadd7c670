package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyforge-go/internal/mock"
	"studyforge-go/internal/model"
	"studyforge-go/internal/repository"
)

// hookedRepository 在读完数据库之后、返回之前执行 afterRead，用来模拟回源期间发生的写入。
type hookedRepository struct {
	repository.DocumentRepository
	afterRead func()
	reads     int
}

func (r *hookedRepository) GetStatus(ctx context.Context, id string) (*model.DocumentStatus, error) {
	status, err := r.DocumentRepository.GetStatus(ctx, id)
	r.reads++
	if r.afterRead != nil {
		hook := r.afterRead
		r.afterRead = nil
		hook()
	}
	return status, err
}

func newCachedRepo(t *testing.T) (*miniredis.Miniredis, *mock.DocumentRepository, *hookedRepository, repository.DocumentRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := mock.NewDocumentRepository()
	require.NoError(t, store.Create(context.Background(), &model.Document{ID: "doc-1", UserID: 7, Name: "a.pdf", FileName: "a.pdf"}))
	inner := &hookedRepository{DocumentRepository: store}
	return mr, store, inner, repository.NewCachedDocumentRepository(inner, rdb, time.Minute)
}

func TestStageCacheServesHitsFromRedis(t *testing.T) {
	ctx := context.Background()
	mr, _, inner, cached := newCachedRepo(t)

	first, err := cached.GetStatus(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePending, first.ExtractionStage)
	assert.True(t, mr.Exists("document:stage:doc-1"))

	second, err := cached.GetStatus(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePending, second.ExtractionStage)
	assert.Equal(t, 1, inner.reads)
}

func TestStageCacheWriteInvalidates(t *testing.T) {
	ctx := context.Background()
	mr, _, _, cached := newCachedRepo(t)

	_, err := cached.GetStatus(ctx, "doc-1")
	require.NoError(t, err)

	ok, err := cached.TransitionStage(ctx, "doc-1", model.StagePending, model.StagePDFParse)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, mr.Exists("document:stage:doc-1"))

	status, err := cached.GetStatus(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePDFParse, status.ExtractionStage)
}

func TestStageCacheSkipsFillWhenWrittenDuringRead(t *testing.T) {
	ctx := context.Background()
	mr, store, inner, cached := newCachedRepo(t)

	// 读者拿到 PENDING 之后、回填之前，文档被推进到 PDF_PARSE
	inner.afterRead = func() {
		ok, err := cached.TransitionStage(ctx, "doc-1", model.StagePending, model.StagePDFParse)
		require.NoError(t, err)
		require.True(t, ok)
	}

	stale, err := cached.GetStatus(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePending, stale.ExtractionStage)
	assert.False(t, mr.Exists("document:stage:doc-1"), "旧状态不能写回缓存")

	fresh, err := cached.GetStatus(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePDFParse, fresh.ExtractionStage)
	assert.Equal(t, model.StagePDFParse, store.Snapshot("doc-1").ExtractionStage)
	assert.True(t, mr.Exists("document:stage:doc-1"))
}

func TestStageCacheNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	mr, _, _, cached := newCachedRepo(t)

	_, err := cached.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrDocumentNotFound)
	assert.False(t, mr.Exists("document:stage:missing"))
}

func TestStageCacheDisabledWithoutClientOrTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := mock.NewDocumentRepository()
	assert.Same(t, store, repository.NewCachedDocumentRepository(store, nil, time.Minute))
	assert.Same(t, store, repository.NewCachedDocumentRepository(store, rdb, 0))
}
