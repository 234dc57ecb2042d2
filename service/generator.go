package service

import (
	"context"

	"StoryboardStudio-server/models"
)

// Generator 外部生成服务。失败时返回可用 errors.Is 区分的错误：
// models.ErrGenerationFailure / models.ErrAuthorizationMissing / models.ErrTimeoutExceeded
type Generator interface {
	GenerateStoryboard(ctx context.Context, req models.StoryboardRequest) (models.StoryboardScript, error)
	RefineConcept(ctx context.Context, in models.ConceptInputs, lang models.Language) (models.StoryConcept, error)
	GenerateShotImage(ctx context.Context, req models.ImageRequest) (models.Artifact, error)
	GenerateCharacterReference(ctx context.Context, c models.CharacterProfile, style models.VisualStyle) (models.Artifact, error)
	EditImage(ctx context.Context, img models.Artifact, instruction string) (models.Artifact, error)
	Animate(ctx context.Context, img models.Artifact, motionPrompt string, aspect models.AspectRatio) (models.Artifact, error)
	Chat(ctx context.Context, message string, history []models.ChatMessage) (models.ChatMessage, error)
}

// KeySetter 支持运行时更换凭证的生成服务
type KeySetter interface {
	SetAPIKey(key string)
}
