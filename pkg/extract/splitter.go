package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageSplitter 用 pdfcpu 把 PDF 拆成单页文件，供逐页 OCR 使用。
type PageSplitter struct {
	tempDir string
}

// NewPageSplitter 创建 PageSplitter，tempDir 为空时使用系统临时目录。
func NewPageSplitter(tempDir string) *PageSplitter {
	return &PageSplitter{tempDir: tempDir}
}

// Split 返回按页码排序的单页 PDF 字节。
func (s *PageSplitter) Split(ctx context.Context, data []byte) ([][]byte, error) {
	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	dir, err := os.MkdirTemp(s.tempDir, "split-*")
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("写入临时文件失败: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pageCount, err := api.PageCountFile(input)
	if err != nil {
		return nil, fmt.Errorf("读取页数失败: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF 没有页面")
	}

	outDir := filepath.Join(dir, "pages")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return nil, err
	}
	if err := api.SplitFile(input, outDir, 1, conf); err != nil {
		return nil, fmt.Errorf("拆分 PDF 失败: %w", err)
	}

	pages := make([][]byte, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := os.ReadFile(filepath.Join(outDir, fmt.Sprintf("source_%d.pdf", i)))
		if err != nil {
			return nil, fmt.Errorf("读取第 %d 页失败: %w", i, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}
