package service

import (
	"context"
	"fmt"

	"StoryboardStudio-server/logger"
	"StoryboardStudio-server/models"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Executor 执行一个已派发的分镜任务
type Executor interface {
	Execute(ctx context.Context, job models.Job)
}

// Processor 消费队列中的分镜任务，结果仍经 Controller 按 id 写回
type Processor struct {
	exec Executor
	srv  *asynq.Server
	log  *logrus.Entry
}

func NewProcessor(exec Executor) *Processor {
	return &Processor{exec: exec, log: logger.Get("processor")}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(opt asynq.RedisClientOpt, concurrency int) {
	p.srv = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeShotJob, p.HandleShotJob)

	p.log.Infof("Starting Task Processor with concurrency %d...", concurrency)
	go func() {
		if err := p.srv.Run(mux); err != nil {
			p.log.Fatalf("could not run server: %v", err)
		}
	}()
}

func (p *Processor) Shutdown() {
	if p.srv != nil {
		p.srv.Shutdown()
	}
}

// HandleShotJob 业务失败已落到分镜状态，不返回错误以免 asynq 重试
func (p *Processor) HandleShotJob(ctx context.Context, t *asynq.Task) error {
	job, err := models.UnmarshalJob(t.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	p.log.WithFields(logrus.Fields{"job_id": job.ID, "shot_id": job.ShotID, "type": job.Type}).Info("Processing Task")
	p.exec.Execute(ctx, job)
	return nil
}
