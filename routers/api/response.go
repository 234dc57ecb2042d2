package api

import (
	"errors"
	"net/http"

	"StoryboardStudio-server/models"
	"StoryboardStudio-server/service"

	"github.com/gin-gonic/gin"
)

var studio *service.Controller
var events *service.Broadcaster

// Init 注入 Controller 与事件源，在 routers.InitRouter 之前调用
func Init(ctrl *service.Controller, b *service.Broadcaster) {
	studio = ctrl
	events = b
}

var errStatus = []struct {
	err    error
	status int
	msg    string
}{
	{models.ErrShotNotFound, http.StatusNotFound, "分镜未找到"},
	{models.ErrCharacterNotFound, http.StatusNotFound, "角色未找到"},
	{models.ErrItemNotFound, http.StatusNotFound, "物品未找到"},
	{models.ErrProjectNotFound, http.StatusNotFound, "项目未找到"},
	{models.ErrShotBusy, http.StatusConflict, "分镜正在生成中"},
	{models.ErrInvalidTransition, http.StatusConflict, "当前状态不允许该操作"},
	{models.ErrPreconditionFailed, http.StatusPreconditionFailed, "缺少前置条件"},
	{models.ErrNoActiveScript, http.StatusPreconditionFailed, "当前没有分镜脚本"},
	{models.ErrAuthorizationMissing, http.StatusUnauthorized, "生成服务凭证无效"},
	{models.ErrStorageQuotaExceeded, http.StatusInsufficientStorage, "存储空间不足"},
	{models.ErrTimeoutExceeded, http.StatusGatewayTimeout, "生成超时"},
	{models.ErrGenerationFailure, http.StatusBadGateway, "生成失败"},
	{models.ErrFeatureDisabled, http.StatusForbidden, "功能未开启"},
	{models.ErrInvalidField, http.StatusBadRequest, "参数错误"},
	{models.ErrTooManyReferences, http.StatusBadRequest, "参考图数量超过上限"},
}

func statusFor(err error) (int, string) {
	for _, e := range errStatus {
		if errors.Is(err, e.err) {
			return e.status, e.msg
		}
	}
	return http.StatusInternalServerError, "内部错误"
}

func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	c.JSON(status, gin.H{"error": msg + ": " + err.Error()})
}

// bind 请求体解析失败时直接返回 400
func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
