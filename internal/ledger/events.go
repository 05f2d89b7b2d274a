package ledger

import (
	"context"
	"errors"
	"sync"
)

// EventKind 标识账本事件类型。
type EventKind string

const (
	EventModelRegistered    EventKind = "model_registered"
	EventAssetRegistered    EventKind = "asset_registered"
	EventVerifierAuthorized EventKind = "verifier_authorized"
	EventScoreUpdated       EventKind = "score_updated"
	EventAssetTransferred   EventKind = "asset_transferred"
)

// Event 描述一次已提交的账本变更，供外部报表与审计消费。
type Event struct {
	ID            string    `json:"id"`
	Kind          EventKind `json:"kind"`
	Actor         Principal `json:"actor"`
	Subject       Principal `json:"subject,omitempty"`
	AssetID       uint64    `json:"asset_id,omitempty"`
	ModelID       string    `json:"model_id,omitempty"`
	Score         int       `json:"score,omitempty"`
	Price         uint64    `json:"price,omitempty"`
	TransferIndex uint64    `json:"transfer_index,omitempty"`
	Height        uint64    `json:"height,omitempty"`
}

// Publisher 负责向外部投递账本事件。
// 事件在存储提交之后发送，投递失败不回滚账本状态。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// MemoryPublisher 使用 channel 缓冲事件，主要用于测试。
type MemoryPublisher struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryPublisher 创建一个内存事件发布器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size)}
}

// Publish 将事件写入缓冲，缓冲已满时丢弃最旧事件。
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("事件发布器已关闭")
	}
	for {
		select {
		case p.ch <- event:
			return nil
		default:
			select {
			case <-p.ch:
			default:
			}
		}
	}
}

// Events 返回事件读取通道。
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Close 关闭发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	return nil
}

// ensure interface compliance at compile time
var _ Publisher = (*MemoryPublisher)(nil)
