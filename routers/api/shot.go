package api

import (
	"net/http"

	"StoryboardStudio-server/models"

	"github.com/gin-gonic/gin"
)

func GetShotDetail(c *gin.Context) {
	shot, err := studio.Store().Shot(c.Param("shot_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shot": shot, "inFlight": studio.InFlight(shot.ID)})
}

// 拖拽排序：dragged 移到 target 的位置
func ReorderShots(c *gin.Context) {
	var req struct {
		DraggedID string `json:"draggedId" binding:"required"`
		TargetID  string `json:"targetId" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	shots, moved, err := studio.Reorder(req.DraggedID, req.TargetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shots": shots, "moved": moved})
}

// 以下三个接口立即返回 generating/animating 状态，结果通过 WebSocket 推送
func GenerateShotImage(c *gin.Context) {
	shot, err := studio.RequestImageGeneration(c.Param("shot_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"shot": shot})
}

func EditShotImage(c *gin.Context) {
	var req struct {
		Instruction string `json:"instruction"`
	}
	if !bind(c, &req) {
		return
	}
	shot, err := studio.RequestImageEdit(c.Param("shot_id"), req.Instruction)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"shot": shot})
}

func AnimateShot(c *gin.Context) {
	var req struct {
		MotionPrompt string             `json:"motionPrompt"`
		AspectRatio  models.AspectRatio `json:"aspectRatio"`
	}
	if !bind(c, &req) {
		return
	}
	shot, err := studio.RequestAnimation(c.Param("shot_id"), req.MotionPrompt, req.AspectRatio)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"shot": shot})
}

func RevertShotImage(c *gin.Context) {
	shot, err := studio.RevertImage(c.Param("shot_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shot": shot})
}

func AssignShotCharacter(c *gin.Context) {
	var req struct {
		CharacterID string `json:"characterId"`
	}
	if !bind(c, &req) {
		return
	}
	shot, err := studio.AssignCharacter(c.Param("shot_id"), req.CharacterID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shot": shot})
}

func AssignShotItems(c *gin.Context) {
	var req struct {
		ItemIDs []string `json:"itemIds"`
	}
	if !bind(c, &req) {
		return
	}
	shot, err := studio.AssignItems(c.Param("shot_id"), req.ItemIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shot": shot})
}

func SetShotBaseReference(c *gin.Context) {
	var req struct {
		Image string `json:"image"`
	}
	if !bind(c, &req) {
		return
	}
	shot, err := studio.SetBaseReferenceImage(c.Param("shot_id"), req.Image)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shot": shot})
}
