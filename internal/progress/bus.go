package progress

import (
	"sync"

	"studyforge-go/pkg/log"
)

// Filter 决定订阅者是否接收某个事件，在发布时求值。
type Filter func(Event) bool

// Handler 处理一个事件，需要尽快返回。
type Handler func(Event)

// Publisher 是流水线用来发送进度事件的接口。
type Publisher interface {
	Publish(Event)
}

type subscriber struct {
	id      uint64
	filter  Filter
	handler Handler
}

// Bus 是进程内的发布/订阅通道。
// 同步投递、至多一次，不为未订阅者缓存事件。
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

// NewBus 创建一个空的事件总线。
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe 注册一个订阅者，filter 为 nil 时接收全部事件。返回的函数用于取消订阅，可重复调用。
func (b *Bus) Subscribe(filter Filter, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscriber{id: id, filter: filter, handler: handler}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish 先对所有订阅者的 filter 求值，再依次同步投递给匹配的订阅者。
// 单个订阅者 panic 只会被记录，不影响其他订阅者和发布方。
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	snapshot := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		snapshot = append(snapshot, s)
	}
	b.mu.RUnlock()

	matched := make([]*subscriber, 0, len(snapshot))
	for _, s := range snapshot {
		if b.accepts(s, ev) {
			matched = append(matched, s)
		}
	}
	for _, s := range matched {
		b.deliver(s, ev)
	}
}

// Subscribers 返回当前订阅者数量。
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) accepts(s *subscriber, ev Event) (ok bool) {
	if s.filter == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[EventBus] 订阅者 %d 的过滤器 panic: %v", s.id, r)
			ok = false
		}
	}()
	return s.filter(ev)
}

func (b *Bus) deliver(s *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[EventBus] 订阅者 %d 处理事件 panic, document: %s, kind: %s, err: %v", s.id, ev.DocumentID, ev.Kind, r)
		}
	}()
	s.handler(ev)
}
