package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// 三种分镜生成任务
const (
	JobTypeShotImage = "generate_shot"  // 分镜 -> 生图
	JobTypeShotEdit  = "edit_shot"      // 图 + 指令 -> 新图
	JobTypeVideoGen  = "generate_video" // 图 -> 视频
)

// Job 派发给执行器的一次分镜请求，执行时所需的上下文在派发时就已固定
type Job struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Epoch  uint64 `json:"epoch"`
	ShotID string `json:"shotId"`

	Context          *GenerationContext `json:"context,omitempty"`
	ImageRef         string             `json:"imageRef,omitempty"`
	Instruction      string             `json:"instruction,omitempty"`
	MotionPrompt     string             `json:"motionPrompt,omitempty"`
	VideoAspectRatio AspectRatio        `json:"videoAspectRatio,omitempty"`

	DispatchedAt time.Time `json:"dispatchedAt"`
}

// Op 任务对应的分镜状态迁移操作
func (j Job) Op() ShotOp {
	switch j.Type {
	case JobTypeShotEdit:
		return ShotOpEdit
	case JobTypeVideoGen:
		return ShotOpAnimate
	default:
		return ShotOpGenerate
	}
}

func (j Job) Marshal() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	return b, nil
}

func UnmarshalJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return j, nil
}
