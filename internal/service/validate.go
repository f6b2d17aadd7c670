package service

import (
	"path/filepath"
	"regexp"
	"strings"

	"studyforge-go/pkg/extract"
)

const maxFileNameLength = 128

var unsafeFileNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeFileName 只保留字母、数字、点、下划线和连字符，其余替换为下划线。
func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	safe := unsafeFileNameChars.ReplaceAllString(name, "_")
	if len(safe) > maxFileNameLength {
		ext := filepath.Ext(safe)
		if len(ext) >= maxFileNameLength {
			ext = ""
		}
		safe = safe[:maxFileNameLength-len(ext)] + ext
	}
	if strings.Trim(safe, "._") == "" {
		return "document.pdf"
	}
	return safe
}

// displayName 是去掉扩展名后的文件名。
func displayName(fileName string) string {
	name := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if name == "" {
		return fileName
	}
	return name
}

// validatePDF 在请求阶段同步校验上传内容。
func validatePDF(data []byte, maxBytes int64) error {
	if len(data) == 0 {
		return invalid("file is empty")
	}
	if int64(len(data)) > maxBytes {
		return invalid("file exceeds the %d byte limit", maxBytes)
	}
	if !extract.IsPDF(data) {
		return invalid("only PDF files are supported")
	}
	return nil
}
