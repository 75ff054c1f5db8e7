package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"WorldsDashboard-server/config"

	"github.com/hibiken/asynq"
)

// Processor 消费渲染队列，把整章的多机位提交交给管线执行
type Processor struct {
	Pipeline *Pipeline
}

func NewProcessor(p *Pipeline) *Processor {
	return &Processor{Pipeline: p}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRenderChapter, p.HandleRenderChapter)

	log.Printf("Starting Render Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// HandleRenderChapter 核心处理逻辑：读 world → 逐机位提交渲染 → 轮询交给管线
func (p *Processor) HandleRenderChapter(ctx context.Context, t *asynq.Task) error {
	var payload RenderChapterPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	world, err := p.Pipeline.Store.GetWorld(payload.WorldID)
	if err != nil {
		return fmt.Errorf("world not found: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing Render: World=%s, Chapter=%d %q", world.Name, payload.ChapterNumber, payload.ChapterTitle)

	result, err := p.Pipeline.GenerateChapterVideos(ctx, world, ChapterRenderRequest{
		ChapterNumber: payload.ChapterNumber,
		ChapterTitle:  payload.ChapterTitle,
		Script:        payload.Script,
		AudioURL:      payload.AudioURL,
	})
	if err != nil {
		// 参数类错误重试也不会好，直接丢弃；传输类错误交给 asynq 重试
		if isValidation(err) {
			log.Printf("[Processor] 渲染参数不合法，放弃: %v", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log.Printf("Render Chapter %d submitted: %d angle(s), %d skipped", payload.ChapterNumber, len(result.Submitted), len(result.Skipped))
	return nil
}

func isValidation(err error) bool {
	var ve *ValidationError
	var ce *ConfigError
	return errors.As(err, &ve) || errors.As(err, &ce)
}
