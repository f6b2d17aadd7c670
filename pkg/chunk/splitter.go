// Package chunk 把抽取出的文本切成有重叠、长度受限的片段。
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// DefaultSeparators 按段落、行、单词、字符的顺序递归切分。
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter 是递归字符切分器，长度以 rune 计。
type Splitter struct {
	size    int
	overlap int
	inner   textsplitter.RecursiveCharacter
}

// NewSplitter 创建切分器，要求 0 <= overlap < size。
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size 必须大于 0, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap 必须在 [0, %d) 之间, got %d", size, overlap)
	}
	return &Splitter{
		size:    size,
		overlap: overlap,
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(DefaultSeparators),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Split 返回按原文顺序排列的非空片段。
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	parts, err := s.inner.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("切分文本失败: %w", err)
	}
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, p)
	}
	return chunks, nil
}

// Size 返回片段长度上限。
func (s *Splitter) Size() int { return s.size }

// Overlap 返回相邻片段的重叠长度。
func (s *Splitter) Overlap() int { return s.overlap }
