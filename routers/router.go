package routers

import (
	"net/http"

	"WorldsDashboard-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Static("/static", "./static")
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1/api")
	{
		v1.POST("/worlds", api.CreateWorld)
		v1.GET("/worlds", api.ListWorlds)
		v1.GET("/worlds/:world_id", api.GetWorld)
		v1.PUT("/worlds/:world_id", api.UpdateWorld)
		v1.DELETE("/worlds/:world_id", api.DeleteWorld)
		v1.POST("/worlds/:world_id/images/:angle", api.UploadWorldImage)
		v1.GET("/worlds/:world_id/videos", api.ListWorldVideos)

		v1.POST("/worlds/:world_id/chapters", api.SuggestChapters)
		v1.POST("/worlds/:world_id/chapters/:chapter_number/script", api.GenerateChapterScript)
		v1.POST("/worlds/:world_id/chapters/:chapter_number/audio", api.GenerateChapterAudio)
		v1.POST("/worlds/:world_id/chapters/:chapter_number/render", api.RenderChapter)
		v1.GET("/worlds/:world_id/chapters/:chapter_number/download", api.DownloadChapter)

		v1.POST("/videos/:video_id/refresh", api.RefreshVideo)
		v1.DELETE("/videos/:video_id", api.DeleteVideo)

		v1.GET("/avatars", api.ListAvatars)
	}
	r.GET("/videos/:video_id/ws", api.VideoProgressWebSocket)
	return r
}
