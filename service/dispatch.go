package service

import (
	"context"
	"sync"

	"StoryboardStudio-server/models"
)

// Dispatcher 把已进入 generating/animating 的任务交给执行器，不等待结果
type Dispatcher interface {
	Dispatch(job models.Job) error
}

// InlineDispatcher 每个任务一个 goroutine，dispatch.mode=inline 时使用
type InlineDispatcher struct {
	ctx  context.Context
	exec func(ctx context.Context, job models.Job)
	wg   sync.WaitGroup
}

func NewInlineDispatcher(ctx context.Context, exec func(ctx context.Context, job models.Job)) *InlineDispatcher {
	return &InlineDispatcher{ctx: ctx, exec: exec}
}

func (d *InlineDispatcher) Dispatch(job models.Job) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.exec(d.ctx, job)
	}()
	return nil
}

// Wait 等待所有已派发任务结束
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
