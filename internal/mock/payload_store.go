package mock

import (
	"context"
	"sync"

	"studyforge-go/pkg/storage"
)

// PayloadStore 是内存版的 storage.PayloadStore。
type PayloadStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	PutErr error
	GetErr error
	// GetHook 在 Get 查找之前被调用，测试用它卡住某次读取。
	GetHook func(key string)
}

var _ storage.PayloadStore = (*PayloadStore)(nil)

// NewPayloadStore 创建一个空存储。
func NewPayloadStore() *PayloadStore {
	return &PayloadStore{objects: make(map[string][]byte)}
}

func (s *PayloadStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *PayloadStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.GetHook != nil {
		s.GetHook(key)
	}
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (s *PayloadStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Has 判断 key 是否存在。
func (s *PayloadStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// Len 返回对象数量。
func (s *PayloadStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
