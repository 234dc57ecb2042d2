package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"StoryboardStudio-server/models"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks  []*asynq.Task
	err    error
	closed bool
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: "default"}, nil
}

func (f *fakeEnqueuer) Close() error {
	f.closed = true
	return nil
}

type recordingExecutor struct {
	jobs []models.Job
}

func (r *recordingExecutor) Execute(_ context.Context, job models.Job) {
	r.jobs = append(r.jobs, job)
}

func TestQueueDispatcherEnqueuesJob(t *testing.T) {
	client := &fakeEnqueuer{}
	d := newQueueDispatcher(client, time.Minute)

	job := models.Job{ID: "j1", Type: models.JobTypeShotEdit, Epoch: 3, ShotID: "s2", ImageRef: "img", Instruction: "add rain"}
	require.NoError(t, d.Dispatch(job))
	require.Len(t, client.tasks, 1)
	assert.Equal(t, TypeShotJob, client.tasks[0].Type())

	back, err := models.UnmarshalJob(client.tasks[0].Payload())
	require.NoError(t, err)
	assert.Equal(t, "s2", back.ShotID)
	assert.Equal(t, uint64(3), back.Epoch)
	assert.Equal(t, "add rain", back.Instruction)

	require.NoError(t, d.Close())
	assert.True(t, client.closed)
}

func TestQueueDispatcherEnqueueError(t *testing.T) {
	d := newQueueDispatcher(&fakeEnqueuer{err: errors.New("redis down")}, 0)
	err := d.Dispatch(models.Job{ID: "j1", ShotID: "s1"})
	assert.ErrorContains(t, err, "redis down")
}

func TestHandleShotJob(t *testing.T) {
	exec := &recordingExecutor{}
	p := NewProcessor(exec)

	job := models.Job{ID: "j1", Type: models.JobTypeVideoGen, Epoch: 1, ShotID: "s1", MotionPrompt: "slow push in"}
	task, err := NewShotTask(job, time.Minute)
	require.NoError(t, err)
	require.NoError(t, p.HandleShotJob(context.Background(), task))
	require.Len(t, exec.jobs, 1)
	assert.Equal(t, "slow push in", exec.jobs[0].MotionPrompt)

	err = p.HandleShotJob(context.Background(), asynq.NewTask(TypeShotJob, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Len(t, exec.jobs, 1)
}

// 队列模式下结果同样按 epoch 和 id 写回
func TestQueueRoundTripThroughController(t *testing.T) {
	store := NewStore(NewMemorySlotStore(0))
	store.ReplaceScript(models.StoryboardScript{Title: "t", Shots: []models.Shot{{ID: "s1", VisualPrompt: "p"}}})
	client := &fakeEnqueuer{}
	gen := &stubGenerator{art: models.Artifact{MimeType: "image/png", Data: []byte("png")}}
	ctrl := NewController(store, gen, nil, WithDispatcher(newQueueDispatcher(client, time.Minute)))

	shot, err := ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	assert.Equal(t, models.ShotStatusGenerating, shot.Status)
	require.Len(t, client.tasks, 1)
	assert.True(t, ctrl.InFlight("s1"))

	require.NoError(t, NewProcessor(ctrl).HandleShotJob(context.Background(), client.tasks[0]))
	got, err := store.Shot("s1")
	require.NoError(t, err)
	assert.Equal(t, models.ShotStatusCompleted, got.Status)
	assert.Equal(t, gen.art.DataURI(), got.ImageURL)
	assert.False(t, ctrl.InFlight("s1"))
}

type stubGenerator struct {
	Generator
	art models.Artifact
}

func (s *stubGenerator) GenerateShotImage(context.Context, models.ImageRequest) (models.Artifact, error) {
	return s.art, nil
}
