// Package pipeline 定义了文件处理的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"studyforge-go/internal/config"
	"studyforge-go/internal/model"
	"studyforge-go/internal/progress"
	"studyforge-go/internal/repository"
	"studyforge-go/internal/vectorstore"
	"studyforge-go/pkg/chunk"
	"studyforge-go/pkg/extract"
	"studyforge-go/pkg/log"
)

// PageSplitter 把 PDF 拆成单页 PDF。
type PageSplitter interface {
	Split(ctx context.Context, data []byte) ([][]byte, error)
}

// PageRecognizer 对单页做 OCR。
type PageRecognizer interface {
	RecognizePage(ctx context.Context, page io.Reader, fileName string) (string, error)
}

// VectorWriter 写入和清理文档的向量分块。
type VectorWriter interface {
	AddChunks(ctx context.Context, meta vectorstore.ChunkMeta, chunks []string, onProgress vectorstore.ProgressFunc) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// Processor 封装了文件处理的所有依赖和逻辑。
type Processor struct {
	repo       repository.DocumentRepository
	primary    extract.TextExtractor
	splitter   PageSplitter
	ocr        PageRecognizer
	chunker    *chunk.Splitter
	vectors    VectorWriter
	events     progress.Publisher
	gate       QualityGate
	jobTimeout time.Duration

	mu      sync.Mutex
	running map[string]struct{}
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	repo repository.DocumentRepository,
	primary extract.TextExtractor,
	splitter PageSplitter,
	ocr PageRecognizer,
	chunker *chunk.Splitter,
	vectors VectorWriter,
	events progress.Publisher,
	cfg config.IngestConfig,
) *Processor {
	return &Processor{
		repo:       repo,
		primary:    primary,
		splitter:   splitter,
		ocr:        ocr,
		chunker:    chunker,
		vectors:    vectors,
		events:     events,
		gate:       NewQualityGate(cfg),
		jobTimeout: cfg.JobTimeout,
		running:    make(map[string]struct{}),
	}
}

// IsRunning 判断当前进程中是否有该文档的任务在运行。
func (p *Processor) IsRunning(documentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[documentID]
	return ok
}

func (p *Processor) claim(documentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[documentID]; ok {
		return false
	}
	p.running[documentID] = struct{}{}
	return true
}

func (p *Processor) release(documentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, documentID)
}

// Process 是文件处理的主函数。
// 只有处于 PENDING 的文档才会被处理；一旦开始，文档最终一定落在 COMPLETE 或 FAILED。
func (p *Processor) Process(ctx context.Context, data []byte, fileName string, ownerID uint, documentID string) error {
	if !p.claim(documentID) {
		return ErrJobInProgress
	}
	defer p.release(documentID)
	return p.process(ctx, data, fileName, ownerID, documentID)
}

// process 要求调用方已经持有 documentID 的任务占用。
func (p *Processor) process(ctx context.Context, data []byte, fileName string, ownerID uint, documentID string) error {
	ok, err := p.repo.TransitionStage(ctx, documentID, model.StagePending, model.StagePDFParse)
	if err != nil {
		return fmt.Errorf("领取文档 %s 失败: %w", documentID, err)
	}
	if !ok {
		return ErrNotPending
	}
	log.Infof("[Processor] 开始处理文件, DocumentID: %s, FileName: %s, UserID: %d", documentID, fileName, ownerID)
	started := time.Now()

	jobCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	text, pageCount, chunkCount, err := p.run(jobCtx, data, fileName, ownerID, documentID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("processing timed out after %s: %w", p.jobTimeout, err)
		}
		p.Fail(ctx, documentID, err)
		return err
	}

	if err := p.repo.MarkCompleted(context.WithoutCancel(ctx), documentID, repository.Completion{
		Content:    text,
		PageCount:  pageCount,
		ChunkCount: chunkCount,
	}); err != nil {
		err = fmt.Errorf("保存抽取结果失败: %w", err)
		p.Fail(ctx, documentID, err)
		return err
	}
	p.events.Publish(progress.Complete(documentID))
	log.Infof("[Processor] 文件处理成功完成, DocumentID: %s, 页数: %d, 分块: %d, 耗时: %s",
		documentID, pageCount, chunkCount, time.Since(started).Round(time.Millisecond))
	return nil
}

// Fail 把文档标记为 FAILED、清理已写入的向量并发送 error 事件。
// 使用与调用方取消无关的 context，保证超时后依然能落库。
func (p *Processor) Fail(ctx context.Context, documentID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	diagnostic := cause.Error()
	log.Errorf("[Processor] 文档处理失败, DocumentID: %s, Error: %v", documentID, cause)

	if err := p.repo.MarkFailed(ctx, documentID, diagnostic); err != nil {
		if errors.Is(err, repository.ErrStageConflict) {
			// 文档已由其他任务落到终态，它的向量和状态都不能动
			log.Warnf("[Processor] 文档已处于终态，忽略本次失败, DocumentID: %s, Error: %v", documentID, cause)
			return
		}
		log.Errorf("[Processor] 标记文档失败状态出错, DocumentID: %s, Error: %v", documentID, err)
	}
	if err := p.vectors.DeleteDocument(ctx, documentID); err != nil {
		log.Warnf("[Processor] 清理部分写入的向量失败, DocumentID: %s, Error: %v", documentID, err)
	}
	p.events.Publish(progress.Failed(documentID, diagnostic))
}

// run 依次执行 PDF_PARSE、(PER_PAGE)、CHUNKING、VECTORIZING。
func (p *Processor) run(ctx context.Context, data []byte, fileName string, ownerID uint, documentID string) (string, int, int, error) {
	// 1. 主抽取器
	p.publish(documentID, model.StagePDFParse, 10, "Parsing PDF")
	if !extract.IsPDF(data) {
		return "", 0, 0, &ExtractionError{Stage: model.StagePDFParse, Err: extract.ErrNotPDF}
	}

	var text string
	var pageCount int
	stage := model.StagePDFParse
	res, err := p.primary.ExtractText(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, 0, ctx.Err()
		}
		log.Warnf("[Processor] 主抽取器失败，准备逐页识别, DocumentID: %s, Error: %v", documentID, err)
	} else {
		text, pageCount = strings.TrimSpace(res.Text), res.PageCount
		log.Infof("[Processor] 主抽取器完成, 页数: %d, 内容长度: %d 字符", pageCount, utf8.RuneCountInString(text))
	}
	p.publish(documentID, model.StagePDFParse, 25, "Text layer extracted")

	// 2. 质量不足时逐页 OCR
	if err != nil || !p.gate.Meaningful(text, pageCount) {
		stage = model.StagePerPage
		text, pageCount, err = p.recognizePages(ctx, data, fileName, documentID)
		if err != nil {
			return "", 0, 0, err
		}
		if !p.gate.Meaningful(text, pageCount) {
			return "", 0, 0, &ExtractionError{
				Stage: model.StagePerPage,
				Err:   errors.New("failed to extract meaningful text from PDF (even with OCR)"),
			}
		}
	}

	// 3. 文本切块
	if err := p.advance(ctx, documentID, stage, model.StageChunking); err != nil {
		return "", 0, 0, err
	}
	p.publish(documentID, model.StageChunking, 55, "Splitting text into chunks")
	chunks, err := p.chunker.Split(text)
	if err != nil {
		return "", 0, 0, &ExtractionError{Stage: model.StageChunking, Err: err}
	}
	if len(chunks) == 0 {
		return "", 0, 0, &ExtractionError{Stage: model.StageChunking, Err: errors.New("no chunks produced")}
	}
	log.Infof("[Processor] 文本分块完成, 共生成 %d 个分块 (size=%d, overlap=%d)", len(chunks), p.chunker.Size(), p.chunker.Overlap())

	// 4. 向量化并写入索引
	if err := p.advance(ctx, documentID, model.StageChunking, model.StageVectorizing); err != nil {
		return "", 0, 0, err
	}
	p.publish(documentID, model.StageVectorizing, 60, fmt.Sprintf("Embedding %d chunks", len(chunks)))
	if err := p.vectors.DeleteDocument(ctx, documentID); err != nil {
		return "", 0, 0, &EmbeddingError{Err: err}
	}
	meta := vectorstore.ChunkMeta{DocumentID: documentID, UserID: ownerID}
	err = p.vectors.AddChunks(ctx, meta, chunks, func(done, total int) {
		p.publish(documentID, model.StageVectorizing, 60+35*done/total, fmt.Sprintf("Embedded chunk %d of %d", done, total))
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, 0, ctx.Err()
		}
		return "", 0, 0, &EmbeddingError{Err: err}
	}

	return text, pageCount, len(chunks), nil
}

// recognizePages 是逐页 OCR 回退路径，每识别一页发送一次进度。
// 单页失败只记录日志；全部失败时返回最后一个错误。
func (p *Processor) recognizePages(ctx context.Context, data []byte, fileName, documentID string) (string, int, error) {
	if err := p.advance(ctx, documentID, model.StagePDFParse, model.StagePerPage); err != nil {
		return "", 0, err
	}
	p.publish(documentID, model.StagePerPage, 25, "Falling back to page-by-page recognition")

	pages, err := p.splitter.Split(ctx, data)
	if err != nil {
		return "", 0, &ExtractionError{Stage: model.StagePerPage, Err: fmt.Errorf("split pages: %w", err)}
	}
	total := len(pages)
	if total == 0 {
		return "", 0, &ExtractionError{Stage: model.StagePerPage, Err: errors.New("document has no pages")}
	}

	base := strings.TrimSuffix(fileName, ".pdf")
	texts := make([]string, 0, total)
	var lastErr error
	failed := 0
	for i, page := range pages {
		text, err := p.ocr.RecognizePage(ctx, bytes.NewReader(page), fmt.Sprintf("%s_page_%d.pdf", base, i+1))
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, ctx.Err()
			}
			log.Warnf("[Processor] 第 %d/%d 页识别失败, DocumentID: %s, Error: %v", i+1, total, documentID, err)
			lastErr = err
			failed++
			text = ""
		}
		texts = append(texts, strings.TrimSpace(text))
		p.publish(documentID, model.StagePerPage, 25+25*(i+1)/total, fmt.Sprintf("Recognized page %d of %d", i+1, total))
	}
	if failed == total {
		return "", 0, &ExtractionError{Stage: model.StagePerPage, Err: fmt.Errorf("ocr failed on every page: %w", lastErr)}
	}
	return strings.TrimSpace(extract.JoinPages(texts)), total, nil
}

// advance 以 compare-and-set 推进阶段，阶段被外部修改时中止任务。
func (p *Processor) advance(ctx context.Context, documentID string, from, to model.Stage) error {
	ok, err := p.repo.TransitionStage(ctx, documentID, from, to)
	if err != nil {
		return fmt.Errorf("更新文档阶段 %s -> %s 失败: %w", from, to, err)
	}
	if !ok {
		return fmt.Errorf("document %s left stage %s unexpectedly", documentID, from)
	}
	return nil
}

func (p *Processor) publish(documentID string, stage model.Stage, percent int, message string) {
	p.events.Publish(progress.Progress(documentID, stage, percent, message))
}
