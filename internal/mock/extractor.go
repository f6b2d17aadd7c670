package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"studyforge-go/pkg/extract"
)

// Extractor 是返回预设页面的 extract.TextExtractor。
type Extractor struct {
	Pages []string
	Err   error
}

func (e *Extractor) ExtractText(ctx context.Context, data []byte) (*extract.Result, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return &extract.Result{
		Text:      extract.JoinPages(e.Pages),
		Pages:     append([]string(nil), e.Pages...),
		PageCount: len(e.Pages),
	}, nil
}

// PageSplitter 返回 Pages 个单页数据。
type PageSplitter struct {
	Pages int
	Err   error
}

func (s *PageSplitter) Split(ctx context.Context, data []byte) ([][]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([][]byte, s.Pages)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("%%PDF-page-%d", i+1))
	}
	return out, nil
}

// Recognizer 模拟逐页 OCR，TextFunc 收到从 0 开始的调用序号。
type Recognizer struct {
	TextFunc func(i int) (string, error)

	mu    sync.Mutex
	calls int
}

func (r *Recognizer) RecognizePage(ctx context.Context, page io.Reader, fileName string) (string, error) {
	if _, err := io.ReadAll(page); err != nil {
		return "", err
	}
	r.mu.Lock()
	i := r.calls
	r.calls++
	r.mu.Unlock()
	if r.TextFunc == nil {
		return "", errors.New("no ocr configured")
	}
	return r.TextFunc(i)
}

// Calls 返回已识别的页数。
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
