// Package es 提供了基于 Elasticsearch 的向量索引实现。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"studyforge-go/internal/config"
	"studyforge-go/internal/model"
	"studyforge-go/pkg/log"
)

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// Index 是存储文档分块向量的 Elasticsearch 索引。
type Index struct {
	client *elasticsearch.Client
	name   string
	dims   int
}

// NewIndex 创建索引访问对象，不会访问网络。
func NewIndex(client *elasticsearch.Client, name string, dims int) *Index {
	return &Index{client: client, name: name, dims: dims}
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func (i *Index) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.name}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", i.name)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"chunk_id": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"user_id": { "type": "long" }
			}
		}
	}`, i.dims)

	res, err = i.client.Indices.Create(
		i.name,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", i.name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", i.name, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", i.name)
	return nil
}

// Upsert 写入（或覆盖）一个分块。
func (i *Index) Upsert(ctx context.Context, chunk model.VectorChunk) error {
	docBytes, err := json.Marshal(chunk)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      i.name,
		DocumentID: chunk.VectorID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引分块到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index chunk %s: %s", chunk.VectorID, res.Status())
	}
	return nil
}

// DeleteByDocument 删除文档的全部分块，并刷新索引使删除立即可见。
func (i *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}

	res, err := i.client.DeleteByQuery(
		[]string{i.name},
		&buf,
		i.client.DeleteByQuery.WithContext(ctx),
		i.client.DeleteByQuery.WithRefresh(true),
		i.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("delete_by_query 失败: %s", res.String())
	}

	var body struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err == nil {
		log.Infof("[ES] 删除文档 %s 的分块 %d 个", documentID, body.Deleted)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64           `json:"_score"`
			Source model.VectorChunk `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在用户（以及可选的文档）范围内做 kNN 检索。
func (i *Index) Search(ctx context.Context, vector []float32, userID uint, documentID string, k int) ([]model.SearchHit, error) {
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"user_id": userID}},
	}
	if documentID != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"document_id": documentID}})
	}
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
			"filter":         map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
		},
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
		"size":    k,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.name),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search 失败 [%d]: %s", res.StatusCode, string(msg))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析 search 响应失败: %w", err)
	}
	hits := make([]model.SearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, model.SearchHit{
			DocumentID:  h.Source.DocumentID,
			ChunkID:     h.Source.ChunkID,
			TextContent: h.Source.TextContent,
			Score:       h.Score,
		})
	}
	return hits, nil
}
