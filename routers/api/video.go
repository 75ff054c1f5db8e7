package api

import (
	"log"
	"net/http"
	"time"

	"WorldsDashboard-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 一个 World 的渲染记录按章节聚合返回（占位记录不算"已生成"）
func ListWorldVideos(c *gin.Context) {
	worldID := c.Param("world_id")
	if _, err := Store.GetWorld(worldID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "World 未找到: " + err.Error()})
		return
	}
	videos, err := Store.ListVideosByWorld(worldID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取渲染记录失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chapters":          models.GroupChapters(videos),
		"nextChapterNumber": models.NextChapterNumber(videos),
	})
}

// 手动刷新单个渲染任务的状态（查一次 HeyGen、落一次库）
func RefreshVideo(c *gin.Context) {
	videoID := c.Param("video_id")
	video, err := Store.GetVideo(videoID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "渲染记录未找到: " + err.Error()})
		return
	}
	if video.ExternalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "该记录还没有提交渲染"})
		return
	}

	st, err := Pipeline.RefreshStatus(c.Request.Context(), video.ID, video.ExternalID)
	if err != nil {
		respondError(c, err)
		return
	}

	// 仍在进行且没有轮询在跑（比如进程重启后恢复失败过），顺手拉起
	if st.Status == models.VideoStatusPending || st.Status == models.VideoStatusProcessing {
		if Pipeline.StartPolling(video.ID, video.ExternalID) {
			log.Printf("刷新时恢复轮询: video=%s", video.ID)
		}
	}

	updated, _ := Store.GetVideo(videoID)
	c.JSON(http.StatusOK, gin.H{"status": st.Status, "videoUrl": st.VideoURL, "video": updated})
}

// 删除单个渲染记录：先停轮询再删
func DeleteVideo(c *gin.Context) {
	videoID := c.Param("video_id")
	if Pipeline.Pollers.Stop(videoID) {
		log.Printf("停止轮询: video=%s（记录删除）", videoID)
	}
	if err := Store.DeleteVideo(videoID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除渲染记录失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "渲染记录已删除"})
}

// 渲染进度 WebSocket 推送：以存储为准，每秒读一次，状态/视频地址变化才推
// 外部轮询写库由后台轮询协程负责，这里只订阅推送
func VideoProgressWebSocket(c *gin.Context) {
	videoID := c.Param("video_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WebSocket升级失败"})
		return
	}
	defer conn.Close()

	v, err := Store.GetVideo(videoID)
	if err != nil {
		_ = conn.WriteJSON(map[string]interface{}{"error": "video not found: " + err.Error()})
		return
	}
	_ = conn.WriteJSON(v)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus := v.Status
	prevURL := v.VideoURL

	for range ticker.C {
		cur, err := Store.GetVideo(videoID)
		if err != nil {
			continue
		}
		if cur.Status != prevStatus || cur.VideoURL != prevURL {
			if err := conn.WriteJSON(cur); err != nil {
				break
			}
			prevStatus = cur.Status
			prevURL = cur.VideoURL
		}
		if cur.Status == models.VideoStatusCompleted || cur.Status == models.VideoStatusFailed {
			_ = conn.WriteJSON(cur)
			break
		}
	}
}
