// Package tasks 定义交给 worker 或发送到 Kafka 的抽取任务结构。
package tasks

// IngestTask 表示一个文档抽取任务。
type IngestTask struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
	UserID     uint   `json:"user_id"`
	PayloadKey string `json:"payload_key"`
}
