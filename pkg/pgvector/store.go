// Package pgvector 提供基于 PostgreSQL + pgvector 的向量索引实现。
package pgvector

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"studyforge-go/internal/model"
	"studyforge-go/pkg/log"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Connect 建立连接池并确认连通。
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 postgres dsn 失败: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建 postgres 连接池失败: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("连接 postgres 失败: %w", err)
	}
	return pool, nil
}

// Store 把分块向量存放在一张带 vector 列的表中。
type Store struct {
	pool  *pgxpool.Pool
	table string
	dims  int
}

// NewStore 创建 Store，table 只允许普通标识符。
func NewStore(pool *pgxpool.Pool, table string, dims int) (*Store, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("非法的表名: %q", table)
	}
	if dims <= 0 {
		return nil, fmt.Errorf("向量维度必须大于 0")
	}
	return &Store{pool: pool, table: table, dims: dims}, nil
}

// EnsureSchema 启用 vector 扩展并建表。
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			vector_id     TEXT PRIMARY KEY,
			document_id   TEXT NOT NULL,
			chunk_id      INTEGER NOT NULL,
			user_id       BIGINT NOT NULL,
			text_content  TEXT NOT NULL,
			model_version TEXT,
			embedding     vector(%d) NOT NULL
		)`, s.table, s.dims),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_user_idx ON %s (user_id)", s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("初始化 pgvector 表失败: %w", err)
		}
	}
	log.Infof("pgvector 表 '%s' 已就绪", s.table)
	return nil
}

// Upsert 写入（或覆盖）一个分块。
func (s *Store) Upsert(ctx context.Context, chunk model.VectorChunk) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (vector_id, document_id, chunk_id, user_id, text_content, model_version, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		ON CONFLICT (vector_id) DO UPDATE SET
			text_content = EXCLUDED.text_content,
			model_version = EXCLUDED.model_version,
			embedding = EXCLUDED.embedding`, s.table)
	_, err := s.pool.Exec(ctx, q,
		chunk.VectorID, chunk.DocumentID, chunk.ChunkID, int64(chunk.UserID),
		chunk.TextContent, chunk.ModelVersion, pgvector.NewVector(chunk.Vector),
	)
	if err != nil {
		return fmt.Errorf("写入分块 %s 失败: %w", chunk.VectorID, err)
	}
	return nil
}

// DeleteByDocument 删除文档的全部分块。
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", s.table), documentID)
	if err != nil {
		return fmt.Errorf("删除文档 %s 的分块失败: %w", documentID, err)
	}
	log.Infof("[pgvector] 删除文档 %s 的分块 %d 个", documentID, tag.RowsAffected())
	return nil
}

// Search 按余弦距离检索，documentID 为空时检索用户的全部文档。
func (s *Store) Search(ctx context.Context, vector []float32, userID uint, documentID string, k int) ([]model.SearchHit, error) {
	q := fmt.Sprintf(`
		SELECT document_id, chunk_id, text_content, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE user_id = $2 AND ($3 = '' OR document_id = $3)
		ORDER BY embedding <=> $1::vector
		LIMIT $4`, s.table)
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), int64(userID), documentID, k)
	if err != nil {
		return nil, fmt.Errorf("pgvector 检索失败: %w", err)
	}
	defer rows.Close()

	var hits []model.SearchHit
	for rows.Next() {
		var h model.SearchHit
		if err := rows.Scan(&h.DocumentID, &h.ChunkID, &h.TextContent, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
