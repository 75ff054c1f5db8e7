package service

import (
	"context"
	"sync"
)

// PollerRegistry 渲染任务轮询注册表：每个 Video id 同一时刻至多一个轮询协程
// 进程退出时 StopAll 统一清掉，避免回调漏进已拆除的上下文
type PollerRegistry struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func NewPollerRegistry() *PollerRegistry {
	return &PollerRegistry{active: make(map[string]context.CancelFunc)}
}

// Start 为 jobID 启动一个轮询协程执行 run；该 id 已有轮询在跑时返回 false
func (r *PollerRegistry) Start(jobID string, run func(ctx context.Context)) bool {
	r.mu.Lock()
	if _, ok := r.active[jobID]; ok {
		r.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.active[jobID] = cancel
	r.mu.Unlock()

	go func() {
		defer r.remove(jobID)
		run(ctx)
	}()
	return true
}

func (r *PollerRegistry) remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.active[jobID]; ok {
		cancel()
		delete(r.active, jobID)
	}
}

// Stop 取消指定任务的轮询，返回是否确实有轮询被取消
func (r *PollerRegistry) Stop(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.active[jobID]; ok {
		cancel()
		delete(r.active, jobID)
		return true
	}
	return false
}

// StopAll 进程拆除时清掉全部轮询
func (r *PollerRegistry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.active {
		cancel()
		delete(r.active, id)
	}
}

// Active 指定任务当前是否有轮询在跑
func (r *PollerRegistry) Active(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}

// Count 当前活跃轮询数
func (r *PollerRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
