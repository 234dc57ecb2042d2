package service

import (
	"context"
	"fmt"

	"StoryboardStudio-server/models"
)

// ArtifactStore 生成结果的存放位置；Save 返回写入分镜的引用，Load 把引用还原成二进制
type ArtifactStore interface {
	Save(ctx context.Context, key string, a models.Artifact) (string, error)
	Load(ctx context.Context, ref string) (models.Artifact, error)
}

// InlineArtifactStore 直接使用 data URI，不依赖外部存储
type InlineArtifactStore struct{}

func (InlineArtifactStore) Save(_ context.Context, _ string, a models.Artifact) (string, error) {
	return a.DataURI(), nil
}

func (InlineArtifactStore) Load(_ context.Context, ref string) (models.Artifact, error) {
	a, err := models.ParseDataURI(ref)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("load inline artifact: %w", err)
	}
	return a, nil
}
