package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"studyforge-go/internal/model"
	"studyforge-go/internal/repository"
	"studyforge-go/pkg/log"
	"studyforge-go/pkg/storage"
	"studyforge-go/pkg/tasks"
)

// Worker 在 ants 协程池中运行抽取任务，本地派发和 Kafka 消费者共用。
type Worker struct {
	processor *Processor
	repo      repository.DocumentRepository
	payloads  storage.PayloadStore
	pool      *ants.Pool
	wg        sync.WaitGroup
}

// NewWorker 创建 Worker。池满时不阻塞调用方，任务改由独立 goroutine 执行。
func NewWorker(processor *Processor, repo repository.DocumentRepository, payloads storage.PayloadStore, size int) (*Worker, error) {
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v interface{}) {
			log.Errorf("[Worker] 抽取任务 panic: %v", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("创建协程池失败: %w", err)
	}
	return &Worker{processor: processor, repo: repo, payloads: payloads, pool: pool}, nil
}

// Dispatch 是本地派发方式，立即返回。
func (w *Worker) Dispatch(ctx context.Context, task tasks.IngestTask) error {
	return w.Submit(task)
}

// Submit 把任务交给协程池。任务的 context 来自 Background，与请求和推送连接无关。
func (w *Worker) Submit(task tasks.IngestTask) error {
	w.wg.Add(1)
	job := func() {
		defer w.wg.Done()
		if err := w.Run(context.Background(), task); err != nil {
			log.Warnf("[Worker] 任务结束, DocumentID: %s, Error: %v", task.DocumentID, err)
		}
	}
	if err := w.pool.Submit(job); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			log.Warnf("[Worker] 协程池已满，使用独立 goroutine 处理文档 %s", task.DocumentID)
			go job()
			return nil
		}
		w.wg.Done()
		return fmt.Errorf("提交抽取任务失败: %w", err)
	}
	return nil
}

// Run 同步执行一个任务：先占用文档，再读取文档和原始文件，调用 Processor，任务结束后删除原始文件。
// 同一文档的重复任务在占用或阶段检查处被拒绝，不会改动已有结果。
func (w *Worker) Run(ctx context.Context, task tasks.IngestTask) error {
	if !w.processor.claim(task.DocumentID) {
		return ErrJobInProgress
	}
	defer w.processor.release(task.DocumentID)

	doc, err := w.repo.FindByID(ctx, task.DocumentID)
	if err != nil {
		if errors.Is(err, repository.ErrDocumentNotFound) {
			log.Infof("[Worker] 文档 %s 已不存在，跳过", task.DocumentID)
			return nil
		}
		return fmt.Errorf("读取文档失败: %w", err)
	}
	if doc.ExtractionStage != model.StagePending {
		log.Infof("[Worker] 文档 %s 处于 %s，跳过", doc.ID, doc.ExtractionStage)
		return ErrNotPending
	}

	key := task.PayloadKey
	if doc.PayloadKey != nil {
		key = *doc.PayloadKey
	}
	data, err := w.payloads.Get(ctx, key)
	if err != nil {
		w.processor.Fail(ctx, doc.ID, fmt.Errorf("load uploaded file: %w", err))
		return err
	}

	err = w.processor.process(ctx, data, doc.FileName, doc.UserID, doc.ID)
	if errors.Is(err, ErrNotPending) {
		return err
	}
	if rmErr := w.payloads.Remove(context.WithoutCancel(ctx), key); rmErr != nil {
		log.Warnf("[Worker] 删除原始文件失败, Key: %s, Error: %v", key, rmErr)
	}
	return err
}

// Wait 等待所有已提交的任务结束，超时返回 false。
func (w *Worker) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Release 关闭协程池。
func (w *Worker) Release() {
	w.pool.Release()
}
