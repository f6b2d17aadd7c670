package model

// VectorChunk 定义了存储在向量索引中的分块结构。
type VectorChunk struct {
	VectorID     string    `json:"vector_id"` // 唯一标识：documentId + "_" + chunkId
	DocumentID   string    `json:"document_id"`
	ChunkID      int       `json:"chunk_id"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	UserID       uint      `json:"user_id"`
}

// SearchHit 定义了返回给前端的相似度检索结果。
type SearchHit struct {
	DocumentID  string  `json:"documentId"`
	ChunkID     int     `json:"chunkId"`
	TextContent string  `json:"textContent"`
	Score       float64 `json:"score"`
}

// ChunkView 是 chunks 接口返回的分块视图。
type ChunkView struct {
	Index     int    `json:"index"`
	Content   string `json:"content"`
	Length    int    `json:"length"`
	WordCount int    `json:"wordCount"`
}
