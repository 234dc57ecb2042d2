package service

import (
	"context"
	"fmt"
	"strings"

	"StoryboardStudio-server/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GenerateStoryboard 由一句话创意生成完整分镜脚本并替换当前项目
func (c *Controller) GenerateStoryboard(ctx context.Context, seed string, lang models.Language) (ProjectState, error) {
	if strings.TrimSpace(seed) == "" {
		return ProjectState{}, fmt.Errorf("%w: story seed is empty", models.ErrInvalidField)
	}
	if err := c.checkAuthorized(); err != nil {
		return ProjectState{}, err
	}
	st := c.store.Snapshot()
	script, err := c.gen.GenerateStoryboard(ctx, models.StoryboardRequest{
		Seed:       seed,
		Style:      models.ResolveStyle(st.Format.VisualStyle),
		Language:   lang,
		Characters: st.Characters,
	})
	if err != nil {
		c.noteFailure(err)
		c.log.WithError(err).WithField("op", "generate_storyboard").Error("分镜脚本生成失败")
		return ProjectState{}, err
	}

	for i := range script.Shots {
		sh := &script.Shots[i]
		sh.ID = uuid.NewString()
		sh.Status = models.ShotStatusIdle
		sh.ImageURL, sh.PreviousImageURL, sh.VideoURL, sh.BaseReferenceImage = "", "", "", ""
		sh.AssignedItemIDs = nil
		if _, ok := st.Character(sh.AssignedCharacterID); !ok {
			sh.AssignedCharacterID = ""
		}
	}
	next := c.store.ReplaceScript(script)
	c.log.WithFields(logrus.Fields{"project_id": next.ProjectID, "shots": len(script.Shots), "epoch": next.Epoch}).Info("分镜脚本已生成")
	c.publishScript(next)
	return next, nil
}

// RefineConcept 引导模式：类型、冲突、主角 -> 标题与故事梗概
func (c *Controller) RefineConcept(ctx context.Context, in models.ConceptInputs, lang models.Language) (models.StoryConcept, error) {
	if err := models.Validate(in); err != nil {
		return models.StoryConcept{}, fmt.Errorf("%w: %v", models.ErrInvalidField, err)
	}
	if err := c.checkAuthorized(); err != nil {
		return models.StoryConcept{}, err
	}
	concept, err := c.gen.RefineConcept(ctx, in, lang)
	if err != nil {
		c.noteFailure(err)
		c.log.WithError(err).WithField("op", "refine_concept").Error("故事构思生成失败")
		return models.StoryConcept{}, err
	}
	return concept, nil
}

// GenerateCharacterReference 为角色抽一张参考图，旧图进入历史
func (c *Controller) GenerateCharacterReference(ctx context.Context, characterID string) (models.CharacterProfile, error) {
	log := c.log.WithFields(logrus.Fields{"character_id": characterID, "op": "character_reference"})
	if err := c.checkAuthorized(); err != nil {
		return models.CharacterProfile{}, err
	}
	st := c.store.Snapshot()
	char, ok := st.Character(characterID)
	if !ok {
		return models.CharacterProfile{}, fmt.Errorf("%w: %s", models.ErrCharacterNotFound, characterID)
	}

	key := "character/" + characterID
	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		return models.CharacterProfile{}, fmt.Errorf("%w: character %s", models.ErrShotBusy, characterID)
	}
	flightID := uuid.NewString()
	c.inflight[key] = flightID
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	art, err := c.gen.GenerateCharacterReference(ctx, char, models.ResolveStyle(st.Format.VisualStyle))
	if err != nil {
		c.noteFailure(err)
		log.WithError(err).Error("角色参考图生成失败")
		return models.CharacterProfile{}, err
	}
	ref, err := c.artifacts.Save(ctx, fmt.Sprintf("characters/%s/%s", characterID, flightID), art)
	if err != nil {
		log.WithError(err).Error("角色参考图保存失败")
		return models.CharacterProfile{}, fmt.Errorf("%w: store artifact: %v", models.ErrGenerationFailure, err)
	}
	updated, err := c.store.SetCharacterReference(ctx, characterID, ref)
	if err == nil && c.events != nil {
		c.events.Publish(ShotEvent{Type: EventCharacterUpdated, Epoch: st.Epoch, Character: &updated})
	}
	return updated, err
}

func (c *Controller) SelectAlternateImage(ctx context.Context, characterID string, index int) (models.CharacterProfile, error) {
	updated, err := c.store.SelectAlternateImage(ctx, characterID, index)
	if err == nil && c.events != nil {
		c.events.Publish(ShotEvent{Type: EventCharacterUpdated, Epoch: c.store.Snapshot().Epoch, Character: &updated})
	}
	return updated, err
}

// LoadProject 切换项目；旧项目未完成的结果会被丢弃
func (c *Controller) LoadProject(ctx context.Context, id string) (ProjectState, error) {
	st, err := c.store.LoadProject(ctx, id)
	if err != nil && st.Script == nil {
		return ProjectState{}, err
	}
	c.publishScript(st)
	return st, err
}

func (c *Controller) NewProject() ProjectState {
	st := c.store.NewProject()
	c.publishScript(st)
	return st
}

func (c *Controller) publishScript(st ProjectState) {
	if c.events == nil {
		return
	}
	ev := ShotEvent{Type: EventScriptReplaced, Epoch: st.Epoch}
	if st.Script != nil {
		ev.Shots = st.Script.Shots
	}
	c.events.Publish(ev)
}

// Chat 创意助手，成功时记录对话历史
func (c *Controller) Chat(ctx context.Context, message string) (models.ChatMessage, error) {
	if strings.TrimSpace(message) == "" {
		return models.ChatMessage{}, fmt.Errorf("%w: empty message", models.ErrInvalidField)
	}
	if err := c.checkAuthorized(); err != nil {
		return models.ChatMessage{}, err
	}
	c.chatMu.Lock()
	defer c.chatMu.Unlock()
	history := append([]models.ChatMessage(nil), c.chatHistory...)
	reply, err := c.gen.Chat(ctx, message, history)
	if err != nil {
		c.noteFailure(err)
		c.log.WithError(err).WithField("op", "chat").Error("助手回复失败")
		return models.ChatMessage{}, err
	}
	reply.Role = models.ChatRoleModel
	c.chatHistory = append(c.chatHistory, models.ChatMessage{Role: models.ChatRoleUser, Text: message}, reply)
	return reply, nil
}

func (c *Controller) ChatHistory() []models.ChatMessage {
	c.chatMu.Lock()
	defer c.chatMu.Unlock()
	return append([]models.ChatMessage(nil), c.chatHistory...)
}

// ---------------------------------------------------------------------------
// 资源库（受 global_vault 开关控制）
// ---------------------------------------------------------------------------

func (c *Controller) vaultEnabled() error {
	if !c.features.GlobalVault {
		return fmt.Errorf("%w: global vault", models.ErrFeatureDisabled)
	}
	return nil
}

func (c *Controller) SearchLibrary(query string) ([]models.CharacterProfile, []models.KeyItem, error) {
	if err := c.vaultEnabled(); err != nil {
		return nil, nil, err
	}
	chars, items := c.store.SearchLibrary(query)
	if !c.features.ItemLibrary {
		items = nil
	}
	return chars, items, nil
}

func (c *Controller) ImportCharacter(ctx context.Context, id string) (models.CharacterProfile, error) {
	if err := c.vaultEnabled(); err != nil {
		return models.CharacterProfile{}, err
	}
	return c.store.ImportCharacter(ctx, id)
}

func (c *Controller) ImportItem(ctx context.Context, id string) (models.KeyItem, error) {
	if err := c.vaultEnabled(); err != nil {
		return models.KeyItem{}, err
	}
	if !c.features.ItemLibrary {
		return models.KeyItem{}, fmt.Errorf("%w: item library", models.ErrFeatureDisabled)
	}
	return c.store.ImportItem(ctx, id)
}

func (c *Controller) SaveCharacterToLibrary(ctx context.Context, id string) (models.CharacterProfile, error) {
	if err := c.vaultEnabled(); err != nil {
		return models.CharacterProfile{}, err
	}
	return c.store.SaveCharacterToLibrary(ctx, id)
}

func (c *Controller) SaveItemToLibrary(ctx context.Context, id string) (models.KeyItem, error) {
	if err := c.vaultEnabled(); err != nil {
		return models.KeyItem{}, err
	}
	if !c.features.ItemLibrary {
		return models.KeyItem{}, fmt.Errorf("%w: item library", models.ErrFeatureDisabled)
	}
	return c.store.SaveItemToLibrary(ctx, id)
}

func (c *Controller) DeleteFromLibrary(ctx context.Context, characterIDs, itemIDs []string) error {
	if err := c.vaultEnabled(); err != nil {
		return err
	}
	return c.store.DeleteFromLibrary(ctx, characterIDs, itemIDs)
}
