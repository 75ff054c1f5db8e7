package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	"WorldsDashboard-server/models"
	"WorldsDashboard-server/service"
	"WorldsDashboard-server/util"

	"github.com/gin-gonic/gin"
)

// 章节清单建议：让模型列出这本书的全部章节，附带下一个建议章节号
func SuggestChapters(c *gin.Context) {
	world, err := Store.GetWorld(c.Param("world_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "World 未找到: " + err.Error()})
		return
	}
	if Scripts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "OpenAI 未配置"})
		return
	}

	chapters, err := Scripts.GenerateChapterList(c.Request.Context(), world.Name, world.Author)
	if err != nil {
		respondError(c, err)
		return
	}

	videos, _ := Store.ListVideosByWorld(world.ID)
	c.JSON(http.StatusOK, gin.H{
		"chapters":          chapters,
		"nextChapterNumber": models.NextChapterNumber(videos),
	})
}

func chapterParams(c *gin.Context) (*models.World, int, bool) {
	world, err := Store.GetWorld(c.Param("world_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "World 未找到: " + err.Error()})
		return nil, 0, false
	}
	number, err := strconv.Atoi(c.Param("chapter_number"))
	if err != nil || number < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chapter_number 必须是正整数"})
		return nil, 0, false
	}
	return world, number, true
}

// 阶段一：生成章节脚本并落库
func GenerateChapterScript(c *gin.Context) {
	world, number, ok := chapterParams(c)
	if !ok {
		return
	}
	var req struct {
		ChapterTitle string `json:"chapterTitle"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	script, video, err := Pipeline.GenerateChapterScript(c.Request.Context(), world, number, req.ChapterTitle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"script": script, "video": video})
}

// 阶段二：合成旁白音频并上传持久化
// 上传链路全挂时回传 base64 字节供会话内试听，durable=false
func GenerateChapterAudio(c *gin.Context) {
	world, number, ok := chapterParams(c)
	if !ok {
		return
	}
	var req struct {
		ChapterTitle string `json:"chapterTitle"`
		Script       string `json:"script"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := Pipeline.GenerateChapterAudio(c.Request.Context(), world, number, req.ChapterTitle, req.Script)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"audioUrl": result.AudioURL, "durable": result.Durable, "video": result.Video}
	if !result.Durable {
		resp["audioBase64"] = base64.StdEncoding.EncodeToString(result.AudioBytes)
	}
	c.JSON(http.StatusOK, resp)
}

// 阶段三：整章渲染入队（最多 3 个机位，队列内顺序提交）
func RenderChapter(c *gin.Context) {
	world, number, ok := chapterParams(c)
	if !ok {
		return
	}
	var req struct {
		ChapterTitle string `json:"chapterTitle"`
		Script       string `json:"script"`
		AudioURL     string `json:"audioUrl"`
		AudioBase64  string `json:"audioBase64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 入队前做一遍轻量校验，明显不合法的请求不占队列
	if req.ChapterTitle == "" || req.Script == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chapterTitle 和 script 不能为空"})
		return
	}
	if !world.HasAnyImage() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请先为至少一个机位上传参考图"})
		return
	}

	audioURL := req.AudioURL
	// 只有会话内字节（上传链路之前全挂过）：现在先持久化成 URL 再入队
	if audioURL == "" && req.AudioBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "audioBase64 解码失败"})
			return
		}
		url, err := Pipeline.Relay.Publish(c.Request.Context(), data, "audio/mpeg")
		if err != nil {
			respondError(c, fmt.Errorf("音频上传失败: %w", err))
			return
		}
		audioURL = url
	}

	if err := service.EnqueueRenderChapter(service.RenderChapterPayload{
		WorldID:       world.ID,
		ChapterNumber: number,
		ChapterTitle:  req.ChapterTitle,
		Script:        req.Script,
		AudioURL:      audioURL,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "渲染任务入队失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "渲染任务已入队"})
}

// chapterZipEntries 按章节组组装导出条目
// 章节组以 (章节号, 标题) 为键：同号不同标题的章节各占一个目录，不能混进一个
func chapterZipEntries(worldName string, chapterNumber int, groups []models.ChapterGroup) []util.ZipEntry {
	var entries []util.ZipEntry
	for _, g := range groups {
		if g.ChapterNumber != chapterNumber || !g.Generated {
			continue
		}
		folder := util.ChapterFolder(g.ChapterNumber, g.ChapterTitle)
		for _, v := range g.Videos {
			if v.VideoURL == "" {
				continue
			}
			entries = append(entries, util.ZipEntry{
				Name: folder + "/" + util.VideoFileName(worldName, g.ChapterNumber, g.ChapterTitle, v.Angle),
				URL:  v.VideoURL,
			})
		}
		if g.AudioURL != "" {
			entries = append(entries, util.ZipEntry{
				Name: folder + "/" + util.AudioFileName(worldName, g.ChapterNumber, g.ChapterTitle),
				URL:  g.AudioURL,
			})
		}
	}
	return entries
}

// 导出章节制品包：各机位视频 + 旁白音频打成一个 zip
func DownloadChapter(c *gin.Context) {
	world, number, ok := chapterParams(c)
	if !ok {
		return
	}

	videos, err := Store.ListVideosByWorld(world.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取渲染记录失败: " + err.Error()})
		return
	}

	entries := chapterZipEntries(world.Name, number, models.GroupChapters(videos))
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "该章节没有可导出的制品"})
		return
	}

	zipName := fmt.Sprintf("%s_Chapter_%d.zip", util.SanitizeFilename(world.Name), number)
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="`+zipName+`"`)
	if _, err := util.WriteZip(c.Writer, entries); err != nil {
		// 头已经发出去了，只能记录
		_ = c.Error(err)
	}
}
