package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/pkg/pubsub"
	"github.com/qs3c/melody_go_server/internal/pkg/queue"
	"github.com/qs3c/melody_go_server/internal/provider"
)

// FakeAdapter 可编程的供应商适配器
type FakeAdapter struct {
	ProviderName provider.Name
	DispatchFn   func(req provider.Request) (*provider.DispatchResult, error)
	StatusFn     func(token string) (*provider.Status, error)

	mu         sync.Mutex
	dispatched []provider.Request
	fetched    []string
}

func (f *FakeAdapter) Name() provider.Name {
	return f.ProviderName
}

func (f *FakeAdapter) Dispatch(ctx context.Context, req provider.Request) (*provider.DispatchResult, error) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, req)
	f.mu.Unlock()
	if f.DispatchFn != nil {
		return f.DispatchFn(req)
	}
	return &provider.DispatchResult{TaskID: fmt.Sprintf("%s-%s", f.ProviderName, req.JobID)}, nil
}

func (f *FakeAdapter) FetchStatus(ctx context.Context, token string) (*provider.Status, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, token)
	f.mu.Unlock()
	if f.StatusFn != nil {
		return f.StatusFn(token)
	}
	return &provider.Status{State: provider.StatePending}, nil
}

// Dispatched 已收到的派发请求
func (f *FakeAdapter) Dispatched() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.dispatched...)
}

// Fetched 已查询过的 token
func (f *FakeAdapter) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// FakeNotifier 记录所有进度消息
type FakeNotifier struct {
	mu       sync.Mutex
	messages []pubsub.ProgressMessage
}

func (n *FakeNotifier) PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, *msg)
	return nil
}

// Messages 已发布的消息
func (n *FakeNotifier) Messages() []pubsub.ProgressMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pubsub.ProgressMessage(nil), n.messages...)
}

// OfType 按类型过滤
func (n *FakeNotifier) OfType(typ string) []pubsub.ProgressMessage {
	var out []pubsub.ProgressMessage
	for _, m := range n.Messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// FakeQueue 内存派发队列，Err 非空时 Push 失败
type FakeQueue struct {
	Err error

	mu       sync.Mutex
	messages []queue.TaskMessage
}

func (q *FakeQueue) Push(ctx context.Context, msg *queue.TaskMessage) error {
	if q.Err != nil {
		return q.Err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, *msg)
	return nil
}

// Messages 已入队的消息
func (q *FakeQueue) Messages() []queue.TaskMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.TaskMessage(nil), q.messages...)
}

// FakeBlobStore 内存对象存储
type FakeBlobStore struct {
	Err error

	mu      sync.Mutex
	objects map[string][]byte
}

func (b *FakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if b.Err != nil {
		return "", b.Err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[key] = data
	return "https://cdn.test/" + key, nil
}

// Keys 已保存的对象
func (b *FakeBlobStore) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	return keys
}

// TestConfig 测试用配置，默认 mureka，开启换供应商
func TestConfig() *config.Config {
	return &config.Config{
		Quota: config.QuotaConfig{DailyGenerations: 5},
		Poll: config.PollConfig{
			InitialDelay:   5 * time.Second,
			MaxDelay:       15 * time.Second,
			Growth:         1.2,
			MaxAttempts:    30,
			RateLimitDelay: 30 * time.Second,
			Concurrency:    4,
			BatchSize:      20,
			Lease:          time.Minute,
		},
		Callback: config.CallbackConfig{FallbackWindow: 24 * time.Hour},
		Providers: config.ProvidersConfig{
			Default:             "mureka",
			FallbackEnabled:     true,
			LongPromptThreshold: 200,
			Suno:                config.ProviderConfig{DisplayName: "Suno", Model: "V4_5", BaseCost: 10},
			Mureka:              config.ProviderConfig{DisplayName: "Mureka", Model: "auto", BaseCost: 8},
		},
	}
}
