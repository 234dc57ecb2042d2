package models

import "fmt"

type ShotStatus string

const (
	ShotStatusIdle       ShotStatus = "idle"
	ShotStatusGenerating ShotStatus = "generating"
	ShotStatusCompleted  ShotStatus = "completed"
	ShotStatusError      ShotStatus = "error"
	ShotStatusAnimating  ShotStatus = "animating"
)

// ShotOp 触发状态迁移的操作
type ShotOp string

const (
	ShotOpGenerate ShotOp = "generate"
	ShotOpEdit     ShotOp = "edit"
	ShotOpAnimate  ShotOp = "animate"
)

// InFlight generating / animating 表示有未完成的请求
func (s ShotStatus) InFlight() bool {
	return s == ShotStatusGenerating || s == ShotStatusAnimating
}

// 允许发起各操作的起始状态
var shotTransitions = map[ShotOp][]ShotStatus{
	ShotOpGenerate: {ShotStatusIdle, ShotStatusCompleted, ShotStatusError},
	ShotOpEdit:     {ShotStatusCompleted, ShotStatusError},
	ShotOpAnimate:  {ShotStatusCompleted, ShotStatusError},
}

func CanStart(from ShotStatus, op ShotOp) bool {
	for _, s := range shotTransitions[op] {
		if s == from {
			return true
		}
	}
	return false
}

type Shot struct {
	ID                   string     `json:"id"`
	SequenceNumber       int        `json:"sequenceNumber"`
	ShotType             string     `json:"shotType"`
	NarrativeDescription string     `json:"narrativeDescription"`
	Dialogue             string     `json:"dialogue,omitempty"`
	VisualPrompt         string     `json:"visualPrompt"`
	Status               ShotStatus `json:"status"`
	ImageURL             string     `json:"imageUrl,omitempty"`
	PreviousImageURL     string     `json:"previousImageUrl,omitempty"`
	VideoURL             string     `json:"videoUrl,omitempty"`
	AssignedCharacterID  string     `json:"assignedCharacterId,omitempty"`
	AssignedItemIDs      []string   `json:"assignedItemIds,omitempty"`
	BaseReferenceImage   string     `json:"baseReferenceImage,omitempty"`
}

func (s Shot) Clone() Shot {
	if s.AssignedItemIDs != nil {
		s.AssignedItemIDs = append([]string(nil), s.AssignedItemIDs...)
	}
	return s
}

// Begin 进入 generating 或 animating。视频总是清空，旧图片保留到新结果写入为止
func (s *Shot) Begin(op ShotOp) error {
	if !CanStart(s.Status, op) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, s.Status)
	}
	if (op == ShotOpEdit || op == ShotOpAnimate) && s.ImageURL == "" {
		return fmt.Errorf("%w: shot %s has no image", ErrPreconditionFailed, s.ID)
	}
	if op == ShotOpAnimate {
		s.Status = ShotStatusAnimating
	} else {
		s.Status = ShotStatusGenerating
	}
	s.VideoURL = ""
	return nil
}

func (s *Shot) CompleteImage(url string) {
	if s.ImageURL != "" && s.ImageURL != url {
		s.PreviousImageURL = s.ImageURL
	}
	s.ImageURL = url
	s.VideoURL = ""
	s.Status = ShotStatusCompleted
}

func (s *Shot) CompleteVideo(url string) {
	s.VideoURL = url
	s.Status = ShotStatusCompleted
}

// Fail 失败只改状态，已有图片不动
func (s *Shot) Fail() {
	s.VideoURL = ""
	s.Status = ShotStatusError
}

// RevertImage 与上一张图片互换
func (s *Shot) RevertImage() error {
	if s.Status.InFlight() {
		return fmt.Errorf("%w: shot %s is %s", ErrShotBusy, s.ID, s.Status)
	}
	if s.PreviousImageURL == "" {
		return fmt.Errorf("%w: shot %s has no previous image", ErrPreconditionFailed, s.ID)
	}
	s.ImageURL, s.PreviousImageURL = s.PreviousImageURL, s.ImageURL
	s.VideoURL = ""
	s.Status = ShotStatusCompleted
	return nil
}

// Renumber 按下标重新编号
func Renumber(shots []Shot) {
	for i := range shots {
		shots[i].SequenceNumber = i + 1
	}
}

// NormalizeShots 重新编号，缺失状态的分镜按 idle 处理
func NormalizeShots(shots []Shot) {
	for i := range shots {
		if shots[i].Status == "" {
			shots[i].Status = ShotStatusIdle
		}
	}
	Renumber(shots)
}
