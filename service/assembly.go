package service

import (
	"fmt"
	"strings"

	"StoryboardStudio-server/models"
)

// AssembleShotContext 构建单个分镜的生图输入，不修改任何参数。
// 图片顺序：底图、角色参考图、物品图、项目参考图，最后是一段文字指令。
func AssembleShotContext(shot models.Shot, st ProjectState, features Features) models.GenerationContext {
	var parts []models.ContextPart
	var identity string
	var itemBlocks []string

	if shot.BaseReferenceImage != "" {
		parts = append(parts, imagePart(models.PartRoleBaseReference, shot.BaseReferenceImage))
	}

	if shot.AssignedCharacterID != "" {
		if c, ok := st.Character(shot.AssignedCharacterID); ok {
			if c.ReferenceImageURL != "" {
				parts = append(parts, imagePart(models.PartRoleCharacterReference, c.ReferenceImageURL))
			}
			identity = characterIdentity(c)
		}
	}

	if features.ItemLibrary {
		for _, id := range shot.AssignedItemIDs {
			it, ok := st.Item(id)
			if !ok {
				continue
			}
			if it.ImageURL != "" {
				parts = append(parts, imagePart(models.PartRoleItemReference, it.ImageURL))
			}
			itemBlocks = append(itemBlocks, fmt.Sprintf("[KEY ITEM]: %s - %s.", it.Name, it.Description))
		}
	}

	for _, ref := range st.ReferenceImages {
		parts = append(parts, imagePart(models.PartRoleProjectReference, ref))
	}

	parts = append(parts, models.ContextPart{
		Kind: models.PartKindText,
		Role: models.PartRoleDirective,
		Text: shotDirective(shot, st.Format, identity, itemBlocks),
	})

	return models.GenerationContext{
		Parts:       parts,
		AspectRatio: st.Format.AspectRatio,
		ImageSize:   st.Format.ImageSize,
	}
}

func imagePart(role models.PartRole, ref string) models.ContextPart {
	return models.ContextPart{Kind: models.PartKindImage, Role: role, Ref: ref}
}

// characterIdentity 视觉特征必须原样、完整、按顺序输出
func characterIdentity(c models.CharacterProfile) string {
	var b strings.Builder
	b.WriteString("[CHARACTER IDENTITY]: Name: ")
	b.WriteString(c.Name)
	b.WriteString(".")
	if c.Age != "" {
		b.WriteString(" Age: " + c.Age + ".")
	}
	if c.Gender != "" {
		b.WriteString(" Gender: " + c.Gender + ".")
	}
	if c.Occupation != "" {
		b.WriteString(" Occupation: " + c.Occupation + ".")
	}
	b.WriteString(" Traits: ")
	b.WriteString(strings.Join(c.VisualTraits, ", "))
	b.WriteString(".")
	if c.Summary != "" {
		b.WriteString(" " + c.Summary)
	}
	return b.String()
}

func shotDirective(shot models.Shot, fs models.FormatSettings, identity string, itemBlocks []string) string {
	style := models.ResolveStyle(fs.VisualStyle)

	lines := []string{
		"STORYBOARD SHOT GENERATION",
		"",
		fmt.Sprintf("[SHOT CONFIG]: %s, Shot #%d", shot.ShotType, shot.SequenceNumber),
		"[SCENE]: " + shot.VisualPrompt,
	}
	if identity != "" {
		lines = append(lines, identity)
	}
	lines = append(lines, itemBlocks...)
	lines = append(lines, "", fmt.Sprintf("[AESTHETIC]: %s (%s)", style.Name, style.Description))
	if fs.CustomStyleDescription != "" {
		lines = append(lines, "[STYLE DIRECTION]: "+fs.CustomStyleDescription)
	}
	lines = append(lines, "", fmt.Sprintf(
		"[DIRECTIVE]: Match composition and lighting to the provided images. "+
			"Maintain extreme character and item consistency. Use %s ratio. High quality, cinematic.",
		fs.AspectRatio))
	return strings.Join(lines, "\n")
}
