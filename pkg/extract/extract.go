// Package extract 提供 PDF 文本抽取与按页拆分。
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"
)

// PDFMagic 是 PDF 文件头。
var PDFMagic = []byte("%PDF")

// ErrNotPDF 表示数据不是 PDF。
var ErrNotPDF = errors.New("payload is not a PDF")

// IsPDF 判断数据是否以 PDF 文件头开始。
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, PDFMagic)
}

// Result 是一次抽取的结果。Pages 按页码顺序排列，可能为空（抽取器不区分页面时）。
type Result struct {
	Text      string
	Pages     []string
	PageCount int
}

// TextExtractor 把 PDF 字节转换为纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte) (*Result, error)
}

// NativeExtractor 使用 ledongthuc/pdf 直接读取文本层。
type NativeExtractor struct{}

// NewNativeExtractor 创建一个 NativeExtractor。
func NewNativeExtractor() *NativeExtractor {
	return &NativeExtractor{}
}

// ExtractText 逐页读取文本层。解析器遇到损坏的文件可能 panic，这里转换为错误返回。
func (e *NativeExtractor) ExtractText(ctx context.Context, data []byte) (res *Result, err error) {
	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("解析 PDF 失败: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("打开 PDF 失败: %w", err)
	}

	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页失败不影响其他页，质量检查会决定是否走 OCR
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.TrimSpace(text))
	}

	return &Result{
		Text:      JoinPages(pages),
		Pages:     pages,
		PageCount: total,
	}, nil
}

// DocconvExtractor 使用 docconv（pdftotext）抽取文本。
type DocconvExtractor struct{}

// NewDocconvExtractor 创建一个 DocconvExtractor。
func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{}
}

// ExtractText 调用 docconv 转换整个文档。
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte) (*Result, error) {
	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", false)
	if err != nil {
		return nil, fmt.Errorf("docconv 转换失败: %w", err)
	}
	pageCount, _ := strconv.Atoi(strings.TrimSpace(res.Meta["Pages"]))
	return &Result{
		Text:      strings.TrimSpace(res.Body),
		PageCount: pageCount,
	}, nil
}

// RemoteTextClient 通过外部服务抽取文本，tika.Client 实现了它。
type RemoteTextClient interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// RemoteExtractor 把整个 PDF 交给 Tika 抽取文本层，不区分页面。
type RemoteExtractor struct {
	client RemoteTextClient
}

// NewRemoteExtractor 创建一个 RemoteExtractor。
func NewRemoteExtractor(client RemoteTextClient) *RemoteExtractor {
	return &RemoteExtractor{client: client}
}

// ExtractText 上传整个文件并返回抽取的纯文本。
func (e *RemoteExtractor) ExtractText(ctx context.Context, data []byte) (*Result, error) {
	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	text, err := e.client.ExtractText(ctx, bytes.NewReader(data), "document.pdf")
	if err != nil {
		return nil, fmt.Errorf("远端抽取失败: %w", err)
	}
	return &Result{Text: strings.TrimSpace(text)}, nil
}

// JoinPages 用空行连接非空页面文本。
func JoinPages(pages []string) string {
	var b strings.Builder
	for _, p := range pages {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
	}
	return b.String()
}
