// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"studyforge-go/internal/config"
)

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL   string
	ocrLanguage string
	httpClient  *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL:   strings.TrimRight(cfg.ServerURL, "/"),
		ocrLanguage: cfg.OCRLanguage,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// ExtractText 自动根据文件后缀推断 MIME 类型，并调用 Tika 提取文本。
func (c *Client) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	return c.put(ctx, fileReader, detectMimeType(fileName), nil)
}

// RecognizePage 对单页 PDF 强制执行 OCR，用于文本层缺失的扫描件。
func (c *Client) RecognizePage(ctx context.Context, page io.Reader, fileName string) (string, error) {
	headers := map[string]string{
		"X-Tika-PDFOcrStrategy": "ocr_only",
	}
	if c.ocrLanguage != "" {
		headers["X-Tika-OCRLanguage"] = c.ocrLanguage
	}
	return c.put(ctx, page, "application/pdf", headers)
}

func (c *Client) put(ctx context.Context, body io.Reader, contentType string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", body)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(msg))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}

	return buf.String(), nil
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
