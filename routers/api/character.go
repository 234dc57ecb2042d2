package api

import (
	"net/http"
	"strconv"

	"StoryboardStudio-server/models"

	"github.com/gin-gonic/gin"
)

func CreateCharacter(c *gin.Context) {
	var req models.CharacterProfile
	if !bind(c, &req) {
		return
	}
	char, err := studio.Store().AddCharacter(c.Request.Context(), req)
	if err != nil {
		// 内存中已添加，只是持久化失败
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"error": msg + ": " + err.Error(), "character": char})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"character": char})
}

// 修改单个字段：{"field": "visualTraits", "traits": [...]}
func UpdateCharacter(c *gin.Context) {
	var req models.CharacterUpdate
	if !bind(c, &req) {
		return
	}
	char, err := studio.Store().UpdateCharacter(c.Request.Context(), c.Param("character_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": char})
}

func DeleteCharacter(c *gin.Context) {
	if err := studio.Store().RemoveCharacter(c.Request.Context(), c.Param("character_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "角色已删除"})
}

// 同步生成角色参考图（抽卡），旧图进入历史
func GenerateCharacterReference(c *gin.Context) {
	char, err := studio.GenerateCharacterReference(c.Request.Context(), c.Param("character_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": char})
}

func SelectAlternateImage(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index 必须是整数"})
		return
	}
	char, err := studio.SelectAlternateImage(c.Request.Context(), c.Param("character_id"), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": char})
}

func itemLibraryEnabled(c *gin.Context) bool {
	if !studio.Features().ItemLibrary {
		c.JSON(http.StatusForbidden, gin.H{"error": "功能未开启: item library"})
		return false
	}
	return true
}

func CreateItem(c *gin.Context) {
	if !itemLibraryEnabled(c) {
		return
	}
	var req models.KeyItem
	if !bind(c, &req) {
		return
	}
	item, err := studio.Store().AddItem(c.Request.Context(), req)
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"error": msg + ": " + err.Error(), "item": item})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

func UpdateItem(c *gin.Context) {
	if !itemLibraryEnabled(c) {
		return
	}
	var req models.ItemUpdate
	if !bind(c, &req) {
		return
	}
	item, err := studio.Store().UpdateItem(c.Request.Context(), c.Param("item_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func DeleteItem(c *gin.Context) {
	if !itemLibraryEnabled(c) {
		return
	}
	if err := studio.Store().RemoveItem(c.Request.Context(), c.Param("item_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "物品已删除"})
}
