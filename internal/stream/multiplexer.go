package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studyforge-go/internal/config"
	"studyforge-go/internal/progress"
	"studyforge-go/pkg/log"
)

// ErrSuperseded 表示同一用户建立了新连接，旧连接被关闭。
var ErrSuperseded = errors.New("stream superseded by a newer connection")

// ErrClosed 表示多路复用器已关闭。
var ErrClosed = errors.New("stream multiplexer closed")

type handle struct {
	owner  uint
	frames chan Frame
	done   chan struct{}
	reason error
	once   sync.Once

	unsubscribe func()
}

func (h *handle) close(reason error) {
	h.once.Do(func() {
		h.reason = reason
		close(h.done)
	})
}

// Multiplexer 为每个用户维护唯一的实时连接，并把总线事件转发过去。
type Multiplexer struct {
	bus       *progress.Bus
	registry  *progress.Registry
	heartbeat time.Duration
	buffer    int

	mu      sync.Mutex
	handles map[uint]*handle
	closed  bool

	stopCleanup func()
}

// NewMultiplexer 创建多路复用器，并注册终态事件的归属清理订阅。
func NewMultiplexer(bus *progress.Bus, registry *progress.Registry, cfg config.StreamConfig) *Multiplexer {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 64
	}
	m := &Multiplexer{
		bus:       bus,
		registry:  registry,
		heartbeat: heartbeat,
		buffer:    buffer,
		handles:   make(map[uint]*handle),
	}
	// 总线先对所有过滤器求值再投递，连接的过滤器总能在清理之前看到归属。
	m.stopCleanup = bus.Subscribe(
		func(ev progress.Event) bool { return ev.IsTerminal() },
		func(ev progress.Event) { registry.Unregister(ev.DocumentID) },
	)
	return m
}

// Serve 把 sink 注册为 ownerID 的当前连接并阻塞转发，直到 ctx 结束（客户端断开）或被新连接取代。
func (m *Multiplexer) Serve(ctx context.Context, ownerID uint, sink Sink) error {
	h, err := m.attach(ownerID)
	if err != nil {
		return err
	}
	defer m.detach(h)

	if err := sink.Send(connectedFrame()); err != nil {
		return fmt.Errorf("发送 connected 帧失败: %w", err)
	}

	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return h.reason
		case fr := <-h.frames:
			if err := sink.Send(fr); err != nil {
				log.Warnf("[Stream] 推送帧失败, owner: %d, type: %s, err: %v", ownerID, fr.Type, err)
				return err
			}
		case <-ticker.C:
			if err := sink.Send(heartbeatFrame()); err != nil {
				log.Warnf("[Stream] 发送心跳失败, owner: %d, err: %v", ownerID, err)
				return err
			}
		}
	}
}

// Connected 判断用户当前是否有活动连接。
func (m *Multiplexer) Connected(ownerID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[ownerID]
	return ok
}

// Close 关闭所有连接并取消清理订阅，停机时调用。
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	handles := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.close(ErrClosed)
	}
	m.stopCleanup()
}

func (m *Multiplexer) attach(ownerID uint) (*handle, error) {
	h := &handle{
		owner:  ownerID,
		frames: make(chan Frame, m.buffer),
		done:   make(chan struct{}),
	}
	// 在登记为当前连接之前订阅，过滤器里的 isCurrent 保证登记前不会收到事件。
	h.unsubscribe = m.bus.Subscribe(
		func(ev progress.Event) bool {
			owner, ok := m.registry.Lookup(ev.DocumentID)
			return ok && owner == ownerID && m.isCurrent(h)
		},
		func(ev progress.Event) { h.enqueue(FrameFromEvent(ev)) },
	)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		h.unsubscribe()
		return nil, ErrClosed
	}
	previous := m.handles[ownerID]
	m.handles[ownerID] = h
	m.mu.Unlock()

	if previous != nil {
		previous.unsubscribe()
		previous.close(ErrSuperseded)
		log.Infof("[Stream] 用户 %d 建立新连接，旧连接已关闭", ownerID)
	}
	return h, nil
}

// detach 在连接结束时调用；只有仍是当前连接时才移除并清理该用户的全部归属记录。
func (m *Multiplexer) detach(h *handle) {
	h.unsubscribe()
	h.close(nil)

	m.mu.Lock()
	current := m.handles[h.owner] == h
	if current {
		delete(m.handles, h.owner)
	}
	m.mu.Unlock()

	if current {
		removed := m.registry.RemoveOwner(h.owner)
		log.Infof("[Stream] 用户 %d 的连接已断开，清理归属记录 %d 条", h.owner, removed)
	}
}

func (m *Multiplexer) isCurrent(h *handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[h.owner] == h
}

func (h *handle) enqueue(fr Frame) {
	select {
	case h.frames <- fr:
	default:
		log.Warnw("[Stream] 发送缓冲已满，丢弃事件", "owner", h.owner, "document", fr.DocumentID, "type", fr.Type)
	}
}
