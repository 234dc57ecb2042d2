package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type libraryRefs struct {
	CharacterIDs []string `json:"characterIds"`
	ItemIDs      []string `json:"itemIds"`
}

// 资源库搜索：GET /v1/api/library?q=
func SearchLibrary(c *gin.Context) {
	chars, items, err := studio.SearchLibrary(c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": chars, "items": items})
}

// 从资源库导入到当前项目，已存在的 id 不会重复导入
func ImportFromLibrary(c *gin.Context) {
	var req libraryRefs
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	resp := gin.H{}
	for _, id := range req.CharacterIDs {
		char, err := studio.ImportCharacter(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		resp["characters"] = append(asSlice(resp["characters"]), char)
	}
	for _, id := range req.ItemIDs {
		item, err := studio.ImportItem(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		resp["items"] = append(asSlice(resp["items"]), item)
	}
	c.JSON(http.StatusOK, resp)
}

func SaveToLibrary(c *gin.Context) {
	var req libraryRefs
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	resp := gin.H{}
	for _, id := range req.CharacterIDs {
		char, err := studio.SaveCharacterToLibrary(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		resp["characters"] = append(asSlice(resp["characters"]), char)
	}
	for _, id := range req.ItemIDs {
		item, err := studio.SaveItemToLibrary(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		resp["items"] = append(asSlice(resp["items"]), item)
	}
	c.JSON(http.StatusOK, resp)
}

func DeleteFromLibrary(c *gin.Context) {
	var req libraryRefs
	if !bind(c, &req) {
		return
	}
	if err := studio.DeleteFromLibrary(c.Request.Context(), req.CharacterIDs, req.ItemIDs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已从资源库删除"})
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func Chat(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if !bind(c, &req) {
		return
	}
	reply, err := studio.Chat(c.Request.Context(), req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func GetChatHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": studio.ChatHistory()})
}

// 更换生成服务凭证，凭证失效后由前端调用
func UpdateAPIKey(c *gin.Context) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if !bind(c, &req) {
		return
	}
	if err := studio.UpdateCredentials(req.APIKey); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorized": studio.Authorized()})
}
