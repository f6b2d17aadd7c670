package progress

import "sync"

// Registry 记录文档到上传者的临时归属，用于把总线事件路由到正确的连接。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]uint
}

// NewRegistry 创建一个空的归属表。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]uint)}
}

// Register 记录 documentID 属于 ownerID，已存在时覆盖。
func (r *Registry) Register(documentID string, ownerID uint) {
	r.mu.Lock()
	r.entries[documentID] = ownerID
	r.mu.Unlock()
}

// Lookup 返回文档的归属用户。
func (r *Registry) Lookup(documentID string) (uint, bool) {
	r.mu.RLock()
	owner, ok := r.entries[documentID]
	r.mu.RUnlock()
	return owner, ok
}

// Unregister 删除文档的归属记录。
func (r *Registry) Unregister(documentID string) {
	r.mu.Lock()
	delete(r.entries, documentID)
	r.mu.Unlock()
}

// Entries 返回当前所有记录的快照。
func (r *Registry) Entries() map[string]uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint, len(r.entries))
	for doc, owner := range r.entries {
		out[doc] = owner
	}
	return out
}

// DocumentsFor 返回属于 ownerID 的文档 ID。
func (r *Registry) DocumentsFor(ownerID uint) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var docs []string
	for doc, owner := range r.entries {
		if owner == ownerID {
			docs = append(docs, doc)
		}
	}
	return docs
}

// RemoveOwner 删除 ownerID 名下的全部记录，返回删除数量。
func (r *Registry) RemoveOwner(ownerID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for doc, owner := range r.entries {
		if owner == ownerID {
			delete(r.entries, doc)
			removed++
		}
	}
	return removed
}

// Len 返回记录数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
