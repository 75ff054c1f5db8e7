package api

import (
	"io"
	"log"
	"net/http"
	"strconv"

	"WorldsDashboard-server/models"

	"github.com/gin-gonic/gin"
)

// 创建 World（一本书一个 World）
func CreateWorld(c *gin.Context) {
	var req struct {
		Name         string `json:"name"`
		Author       string `json:"author"`
		VoiceID      string `json:"voiceId"`
		SystemPrompt string `json:"systemPrompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name 不能为空"})
		return
	}

	world, err := Store.CreateWorld(&models.World{
		Name:         req.Name,
		Author:       req.Author,
		VoiceID:      req.VoiceID,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建 World 失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"world": world})
}

// World 列表
func ListWorlds(c *gin.Context) {
	worlds, err := Store.ListWorlds()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取 worlds 失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"worlds": worlds})
}

// World 详情
func GetWorld(c *gin.Context) {
	world, err := Store.GetWorld(c.Param("world_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "World 未找到: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"world": world})
}

// 更新 World 元数据（局部更新，仅更新请求里出现的字段）
func UpdateWorld(c *gin.Context) {
	worldID := c.Param("world_id")
	var req map[string]interface{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 请求体字段名（camelCase）转列名
	allowed := map[string]string{
		"name":         "name",
		"author":       "author",
		"voiceId":      "voice_id",
		"systemPrompt": "system_prompt",
	}
	fields := make(map[string]interface{})
	for k, col := range allowed {
		if v, ok := req[k]; ok {
			fields[col] = v
		}
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "没有可更新的字段"})
		return
	}

	world, err := Store.UpdateWorld(worldID, fields)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新 World 失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"world": world})
}

// 删除 World：先停掉该 World 下所有渲染轮询，再级联删除记录
func DeleteWorld(c *gin.Context) {
	worldID := c.Param("world_id")

	videos, err := Store.ListVideosByWorld(worldID)
	if err == nil {
		for _, v := range videos {
			if Pipeline.Pollers.Stop(v.ID) {
				log.Printf("停止轮询: video=%s（World 删除）", v.ID)
			}
		}
	}

	if err := Store.DeleteWorld(worldID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除 World 失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "World 已删除"})
}

// 上传机位参考图：转发给 HeyGen 资产库，image key 落到对应机位
func UploadWorldImage(c *gin.Context) {
	worldID := c.Param("world_id")
	angle, err := strconv.Atoi(c.Param("angle"))
	if err != nil || angle < 1 || angle > models.MaxAngles {
		c.JSON(http.StatusBadRequest, gin.H{"error": "angle 必须是 1-3"})
		return
	}

	if _, err := Store.GetWorld(worldID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "World 未找到: " + err.Error()})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 image 文件字段"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, 20<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传文件失败: " + err.Error()})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	imageKey, err := Renders.UploadImageAsset(c.Request.Context(), data, contentType)
	if err != nil {
		respondError(c, err)
		return
	}

	col := "image_key_" + strconv.Itoa(angle)
	world, err := Store.UpdateWorld(worldID, map[string]interface{}{col: imageKey})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存 image key 失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"world": world, "imageKey": imageKey, "angle": angle})
}

// 调试用：透传 HeyGen 数字人列表
func ListAvatars(c *gin.Context) {
	out, err := Renders.ListAvatars(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
