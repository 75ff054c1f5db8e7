package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"WorldsDashboard-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypeRenderChapter = "chapter:render"
)

// RenderChapterPayload 渲染任务载荷：world id + 章节上下文
// 音频只传 URL 不传字节，字节过不了 Redis 也没必要过
type RenderChapterPayload struct {
	WorldID       string `json:"world_id"`
	ChapterNumber int    `json:"chapter_number"`
	ChapterTitle  string `json:"chapter_title"`
	Script        string `json:"script"`
	AudioURL      string `json:"audio_url"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueRenderChapter 整章渲染任务入队（最多 3 个机位在任务内顺序提交）
func EnqueueRenderChapter(p RenderChapterPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeRenderChapter, payload,
		asynq.MaxRetry(3),             // 失败重试 3 次
		asynq.Timeout(20*time.Minute), // 数字人渲染较慢，设置较长超时
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Render Enqueued: ID=%s, World=%s, Chapter=%d", info.ID, p.WorldID, p.ChapterNumber)
	return nil
}
