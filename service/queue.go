package service

import (
	"fmt"
	"time"

	"StoryboardStudio-server/logger"
	"StoryboardStudio-server/models"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	TypeShotJob = "shot:generate"
)

// enqueuer asynq.Client 中 QueueDispatcher 用到的部分
type enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueDispatcher 经 Redis 队列派发，dispatch.mode=queue 时使用
type QueueDispatcher struct {
	client  enqueuer
	timeout time.Duration
	log     *logrus.Entry
}

func NewQueueDispatcher(opt asynq.RedisClientOpt, timeout time.Duration) *QueueDispatcher {
	return newQueueDispatcher(asynq.NewClient(opt), timeout)
}

func newQueueDispatcher(client enqueuer, timeout time.Duration) *QueueDispatcher {
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &QueueDispatcher{client: client, timeout: timeout, log: logger.Get("queue")}
}

// NewShotTask 分镜任务不重试：失败由 Controller 落到 error，用户自行重试
func NewShotTask(job models.Job, timeout time.Duration) (*asynq.Task, error) {
	payload, err := job.Marshal()
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeShotJob, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
		asynq.Retention(24*time.Hour),
		asynq.TaskID(job.ID),
	), nil
}

func (d *QueueDispatcher) Dispatch(job models.Job) error {
	task, err := NewShotTask(job, d.timeout)
	if err != nil {
		return err
	}
	info, err := d.client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	d.log.WithFields(logrus.Fields{"job_id": job.ID, "shot_id": job.ShotID, "queue": info.Queue}).Info("任务已入队")
	return nil
}

func (d *QueueDispatcher) Close() error {
	return d.client.Close()
}
