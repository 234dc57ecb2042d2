package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"StoryboardStudio-server/logger"
	"StoryboardStudio-server/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Features 各界面变体的功能开关
type Features struct {
	ItemLibrary bool `json:"itemLibrary"`
	GlobalVault bool `json:"globalVault"`
}

// Controller 分镜生命周期：校验、派发、把异步结果按 id 写回 Store
type Controller struct {
	store      *Store
	gen        Generator
	artifacts  ArtifactStore
	events     *Broadcaster
	features   Features
	dispatcher Dispatcher
	log        *logrus.Entry
	now        func() time.Time

	mu          sync.Mutex
	inflight    map[string]string // epoch/shot 或 character/id -> job id
	authMissing bool

	chatMu      sync.Mutex
	chatHistory []models.ChatMessage
}

type Option func(*Controller)

func WithFeatures(f Features) Option {
	return func(c *Controller) { c.features = f }
}

func WithEvents(b *Broadcaster) Option {
	return func(c *Controller) { c.events = b }
}

func WithDispatcher(d Dispatcher) Option {
	return func(c *Controller) { c.dispatcher = d }
}

func NewController(store *Store, gen Generator, artifacts ArtifactStore, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		gen:       gen,
		artifacts: artifacts,
		features:  Features{ItemLibrary: true, GlobalVault: true},
		log:       logger.Get("controller"),
		now:       time.Now,
		inflight:  make(map[string]string),
	}
	if c.artifacts == nil {
		c.artifacts = InlineArtifactStore{}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = NewInlineDispatcher(context.Background(), c.Execute)
	}
	return c
}

// UseDispatcher 替换派发方式（队列模式下执行器需要先拿到 Controller）
func (c *Controller) UseDispatcher(d Dispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatcher = d
}

func (c *Controller) Store() *Store {
	return c.store
}

func (c *Controller) Features() Features {
	return c.features
}

// ---------------------------------------------------------------------------
// 凭证
// ---------------------------------------------------------------------------

func (c *Controller) checkAuthorized() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authMissing {
		return models.ErrAuthorizationMissing
	}
	return nil
}

// noteFailure 生成服务报告凭证无效时，关闭所有生成入口
func (c *Controller) noteFailure(err error) {
	if !errors.Is(err, models.ErrAuthorizationMissing) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authMissing {
		c.log.WithError(err).Warn("生成服务凭证无效，暂停所有生成请求")
	}
	c.authMissing = true
}

func (c *Controller) Authorized() bool {
	return c.checkAuthorized() == nil
}

// UpdateCredentials 更换凭证并重新开放生成入口
func (c *Controller) UpdateCredentials(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty api key", models.ErrInvalidField)
	}
	if ks, ok := c.gen.(KeySetter); ok {
		ks.SetAPIKey(key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authMissing = false
	c.log.Info("生成服务凭证已更新")
	return nil
}

// ---------------------------------------------------------------------------
// 分镜生命周期
// ---------------------------------------------------------------------------

func shotFlightKey(epoch uint64, shotID string) string {
	return fmt.Sprintf("shot/%d/%s", epoch, shotID)
}

// RequestImageGeneration 同步进入 generating，实际生成异步进行
func (c *Controller) RequestImageGeneration(shotID string) (models.Shot, error) {
	return c.begin(shotID, models.ShotOpGenerate, func(st ProjectState, shot models.Shot) (models.Job, error) {
		gc := AssembleShotContext(shot, st, c.features)
		return models.Job{Type: models.JobTypeShotImage, Context: &gc}, nil
	})
}

func (c *Controller) RequestImageEdit(shotID, instruction string) (models.Shot, error) {
	return c.begin(shotID, models.ShotOpEdit, func(_ ProjectState, shot models.Shot) (models.Job, error) {
		if shot.ImageURL == "" {
			return models.Job{}, fmt.Errorf("%w: shot %s has no image to edit", models.ErrPreconditionFailed, shot.ID)
		}
		if instruction == "" {
			return models.Job{}, fmt.Errorf("%w: empty edit instruction", models.ErrInvalidField)
		}
		return models.Job{Type: models.JobTypeShotEdit, ImageRef: shot.ImageURL, Instruction: instruction}, nil
	})
}

func (c *Controller) RequestAnimation(shotID, motionPrompt string, aspect models.AspectRatio) (models.Shot, error) {
	return c.begin(shotID, models.ShotOpAnimate, func(_ ProjectState, shot models.Shot) (models.Job, error) {
		if shot.ImageURL == "" {
			return models.Job{}, fmt.Errorf("%w: shot %s has no image to animate", models.ErrPreconditionFailed, shot.ID)
		}
		if aspect == "" {
			aspect = models.AspectRatio16x9
		}
		if aspect != models.AspectRatio16x9 && aspect != models.AspectRatio9x16 {
			return models.Job{}, fmt.Errorf("%w: video aspect ratio %s", models.ErrInvalidField, aspect)
		}
		return models.Job{
			Type:             models.JobTypeVideoGen,
			ImageRef:         shot.ImageURL,
			MotionPrompt:     motionPrompt,
			VideoAspectRatio: aspect,
		}, nil
	})
}

func (c *Controller) begin(shotID string, op models.ShotOp, build func(st ProjectState, shot models.Shot) (models.Job, error)) (models.Shot, error) {
	log := c.log.WithFields(logrus.Fields{"shot_id": shotID, "op": op})
	if err := c.checkAuthorized(); err != nil {
		log.WithError(err).Warn("请求被拒绝")
		return models.Shot{}, err
	}

	c.mu.Lock()
	var job models.Job
	shot, epoch, err := c.store.editShot(shotID, func(st ProjectState, s *models.Shot) error {
		if _, busy := c.inflight[shotFlightKey(st.Epoch, s.ID)]; busy || s.Status.InFlight() {
			return fmt.Errorf("%w: %s is %s", models.ErrShotBusy, s.ID, s.Status)
		}
		j, err := build(st, *s)
		if err != nil {
			return err
		}
		if err := s.Begin(op); err != nil {
			return err
		}
		j.ID = uuid.NewString()
		j.Epoch = st.Epoch
		j.ShotID = s.ID
		j.DispatchedAt = c.now()
		job = j
		return nil
	})
	if err != nil {
		c.mu.Unlock()
		log.WithError(err).Warn("请求被拒绝")
		return models.Shot{}, err
	}
	c.inflight[shotFlightKey(epoch, shotID)] = job.ID
	dispatcher := c.dispatcher
	c.mu.Unlock()

	c.publishShot(epoch, shot)
	log.WithField("job_id", job.ID).Info("任务已派发")

	if err := dispatcher.Dispatch(job); err != nil {
		dispatchErr := fmt.Errorf("%w: dispatch: %v", models.ErrGenerationFailure, err)
		c.settle(job, "", dispatchErr)
		return models.Shot{}, dispatchErr
	}
	return shot, nil
}

// Execute 执行一个已派发的分镜任务；无论成功失败都会让分镜落到 completed 或 error
func (c *Controller) Execute(ctx context.Context, job models.Job) {
	var ref string
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: panic: %v", models.ErrGenerationFailure, r)
			}
		}()
		ref, err = c.run(ctx, job)
	}()
	c.settle(job, ref, err)
}

func (c *Controller) run(ctx context.Context, job models.Job) (string, error) {
	var art models.Artifact
	var err error
	switch job.Type {
	case models.JobTypeShotImage:
		if job.Context == nil {
			return "", fmt.Errorf("%w: job %s has no generation context", models.ErrGenerationFailure, job.ID)
		}
		var req models.ImageRequest
		if req, err = c.resolveContext(ctx, *job.Context); err != nil {
			return "", err
		}
		art, err = c.gen.GenerateShotImage(ctx, req)
	case models.JobTypeShotEdit, models.JobTypeVideoGen:
		var img models.Artifact
		if img, err = c.artifacts.Load(ctx, job.ImageRef); err != nil {
			return "", fmt.Errorf("%w: load source image: %v", models.ErrGenerationFailure, err)
		}
		if job.Type == models.JobTypeShotEdit {
			art, err = c.gen.EditImage(ctx, img, job.Instruction)
		} else {
			art, err = c.gen.Animate(ctx, img, job.MotionPrompt, job.VideoAspectRatio)
		}
	default:
		return "", fmt.Errorf("%w: unknown job type %s", models.ErrGenerationFailure, job.Type)
	}
	if err != nil {
		return "", err
	}
	if len(art.Data) == 0 {
		return "", fmt.Errorf("%w: empty artifact", models.ErrGenerationFailure)
	}
	ref, err := c.artifacts.Save(ctx, fmt.Sprintf("shots/%s/%s", job.ShotID, job.ID), art)
	if err != nil {
		return "", fmt.Errorf("%w: store artifact: %v", models.ErrGenerationFailure, err)
	}
	return ref, nil
}

func (c *Controller) resolveContext(ctx context.Context, gc models.GenerationContext) (models.ImageRequest, error) {
	req := models.ImageRequest{AspectRatio: gc.AspectRatio, ImageSize: gc.ImageSize}
	c.log.WithFields(logrus.Fields{"parts": len(gc.Parts), "images": len(gc.ImageRefs())}).Debug("解析生图上下文")
	for _, p := range gc.Parts {
		if p.Kind == models.PartKindText {
			req.Parts = append(req.Parts, models.ImagePart{Text: p.Text})
			continue
		}
		img, err := c.artifacts.Load(ctx, p.Ref)
		if err != nil {
			return models.ImageRequest{}, fmt.Errorf("%w: load %s image: %v", models.ErrGenerationFailure, p.Role, err)
		}
		req.Parts = append(req.Parts, models.ImagePart{Image: &img})
	}
	return req, nil
}

// settle 按 id 重新取当前分镜再写回；分镜已删除或项目已切换时丢弃结果
func (c *Controller) settle(job models.Job, ref string, runErr error) {
	log := c.log.WithFields(logrus.Fields{"job_id": job.ID, "shot_id": job.ShotID, "op": job.Op(), "epoch": job.Epoch})
	if runErr != nil {
		c.noteFailure(runErr)
		log.WithError(runErr).Error("分镜生成失败")
	}

	c.mu.Lock()
	shot, err := c.store.settleShot(job.Epoch, job.ShotID, func(s *models.Shot) error {
		if !s.Status.InFlight() {
			return fmt.Errorf("%w: shot is %s", models.ErrStaleResult, s.Status)
		}
		switch {
		case runErr != nil:
			s.Fail()
		case job.Op() == models.ShotOpAnimate:
			s.CompleteVideo(ref)
		default:
			s.CompleteImage(ref)
		}
		return nil
	})
	key := shotFlightKey(job.Epoch, job.ShotID)
	if c.inflight[key] == job.ID {
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	if err != nil {
		log.WithError(err).Warn("结果已丢弃")
		return
	}
	if runErr == nil {
		log.Info("分镜生成完成")
	}
	c.publishShot(job.Epoch, shot)
}

// InFlight 当前分镜是否有未完成的请求
func (c *Controller) InFlight(shotID string) bool {
	epoch := c.store.Snapshot().Epoch
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[shotFlightKey(epoch, shotID)]
	return ok
}

// ---------------------------------------------------------------------------
// 纯编辑操作（任意状态可用，不影响已派发的任务）
// ---------------------------------------------------------------------------

// Reorder 把 dragged 移到 target 的位置，所有分镜重新编号
func (c *Controller) Reorder(draggedID, targetID string) ([]models.Shot, bool, error) {
	shots, moved, err := c.store.reorderShots(draggedID, targetID)
	if err != nil || !moved {
		return shots, moved, err
	}
	if c.events != nil {
		c.events.Publish(ShotEvent{Type: EventShotsReordered, Epoch: c.store.Snapshot().Epoch, Shots: shots})
	}
	return shots, true, nil
}

func (c *Controller) AssignCharacter(shotID, characterID string) (models.Shot, error) {
	return c.edit(shotID, func(st ProjectState, s *models.Shot) error {
		if characterID != "" {
			if _, ok := st.Character(characterID); !ok {
				return fmt.Errorf("%w: %s", models.ErrCharacterNotFound, characterID)
			}
		}
		s.AssignedCharacterID = characterID
		return nil
	})
}

func (c *Controller) AssignItems(shotID string, itemIDs []string) (models.Shot, error) {
	if !c.features.ItemLibrary {
		return models.Shot{}, fmt.Errorf("%w: item library", models.ErrFeatureDisabled)
	}
	return c.edit(shotID, func(st ProjectState, s *models.Shot) error {
		seen := make(map[string]bool, len(itemIDs))
		var ids []string
		for _, id := range itemIDs {
			if seen[id] {
				continue
			}
			if _, ok := st.Item(id); !ok {
				return fmt.Errorf("%w: %s", models.ErrItemNotFound, id)
			}
			seen[id] = true
			ids = append(ids, id)
		}
		s.AssignedItemIDs = ids
		return nil
	})
}

// SetBaseReferenceImage 空字符串表示清除底图
func (c *Controller) SetBaseReferenceImage(shotID, image string) (models.Shot, error) {
	return c.edit(shotID, func(_ ProjectState, s *models.Shot) error {
		s.BaseReferenceImage = image
		return nil
	})
}

func (c *Controller) RevertImage(shotID string) (models.Shot, error) {
	return c.edit(shotID, func(_ ProjectState, s *models.Shot) error {
		return s.RevertImage()
	})
}

func (c *Controller) edit(shotID string, fn func(st ProjectState, s *models.Shot) error) (models.Shot, error) {
	shot, epoch, err := c.store.editShot(shotID, fn)
	if err != nil {
		return models.Shot{}, err
	}
	c.publishShot(epoch, shot)
	return shot, nil
}

func (c *Controller) publishShot(epoch uint64, shot models.Shot) {
	if c.events == nil {
		return
	}
	c.events.Publish(ShotEvent{Type: EventShotUpdated, Epoch: epoch, Shot: &shot})
}
