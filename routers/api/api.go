package api

import (
	"errors"
	"net/http"

	"WorldsDashboard-server/models"
	"WorldsDashboard-server/service"

	"github.com/gin-gonic/gin"
)

// 处理器依赖，启动时由 main 注入
var (
	Store    models.Store
	Pipeline *service.Pipeline
	Scripts  *service.ScriptProvider
	Renders  *service.RenderProvider
)

func Init(store models.Store, pipeline *service.Pipeline, scripts *service.ScriptProvider, renders *service.RenderProvider) {
	Store = store
	Pipeline = pipeline
	Scripts = scripts
	Renders = renders
}

// respondError 把内部错误分类映射到 HTTP 状态码，
// 提供方错误带上可操作的排查提示（Hint）
func respondError(c *gin.Context, err error) {
	var ve *service.ValidationError
	var ce *service.ConfigError
	var pe *service.ProviderError
	var te *service.TransportError
	var parse *service.ParseError

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.As(err, &ce):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ce.Error()})
	case errors.As(err, &pe):
		c.JSON(http.StatusBadGateway, gin.H{"error": pe.Error(), "hint": pe.Hint()})
	case errors.As(err, &te):
		c.JSON(http.StatusBadGateway, gin.H{"error": te.Error()})
	case errors.As(err, &parse):
		c.JSON(http.StatusBadGateway, gin.H{"error": parse.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
