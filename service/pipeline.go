package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"WorldsDashboard-server/config"
	"WorldsDashboard-server/models"
)

// 管线依赖以接口注入，方便测试替换
type scriptGenerator interface {
	GenerateScript(ctx context.Context, systemPrompt, chapterTitle string, chapterNumber int, worldName string) (string, error)
}

type speechSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

type renderClient interface {
	RequestRender(ctx context.Context, imageKey, script, audioURL, title string) (*RenderSubmission, error)
	PollStatus(ctx context.Context, externalID string) (*RenderStatus, error)
}

type publisher interface {
	Publish(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Pipeline 生成管线编排器：script → audio → 最多 3 个机位的渲染任务
// 每个阶段推进后立刻落库，页面重载不丢已生成内容；
// 轮询状态机归 Pollers 管，同一渲染任务同一时刻至多一个轮询
type Pipeline struct {
	Store  models.Store
	Script scriptGenerator
	Speech speechSynthesizer
	Render renderClient
	Relay  publisher

	Pollers         *PollerRegistry
	PollInterval    time.Duration
	MaxPollAttempts int
}

func NewPipeline(store models.Store, script scriptGenerator, speech speechSynthesizer, render renderClient, relay publisher) *Pipeline {
	interval := 5 * time.Second
	attempts := 240
	if config.AppConfig != nil {
		interval = time.Duration(config.AppConfig.Pipeline.PollIntervalSec) * time.Second
		attempts = config.AppConfig.Pipeline.MaxPollAttempts
	}
	return &Pipeline{
		Store:           store,
		Script:          script,
		Speech:          speech,
		Render:          render,
		Relay:           relay,
		Pollers:         NewPollerRegistry(),
		PollInterval:    interval,
		MaxPollAttempts: attempts,
	}
}

// findAngleRecord 按 (world, 章节号, 机位) 找已有渲染记录
// 章节号允许重复，同号记录都算同一章，编辑已渲染章节时复用原记录而不是建新的
func (p *Pipeline) findAngleRecord(worldID string, chapterNumber, angle int) *models.Video {
	videos, err := p.Store.ListVideosByWorld(worldID)
	if err != nil {
		return nil
	}
	for i := range videos {
		if videos[i].ChapterNumber == chapterNumber && videos[i].Angle == angle {
			return &videos[i]
		}
	}
	return nil
}

// GenerateChapterScript 阶段一：生成脚本并立刻持久化到占位记录
func (p *Pipeline) GenerateChapterScript(ctx context.Context, world *models.World, chapterNumber int, chapterTitle string) (string, *models.Video, error) {
	if strings.TrimSpace(chapterTitle) == "" {
		return "", nil, &ValidationError{Field: "chapter_title", Reason: "章节标题不能为空"}
	}
	if strings.TrimSpace(world.SystemPrompt) == "" {
		return "", nil, &ValidationError{Field: "system_prompt", Reason: "请先为该 World 配置生成指令"}
	}
	if p.Script == nil {
		return "", nil, &ConfigError{Field: "openai.api_key"}
	}

	script, err := p.Script.GenerateScript(ctx, world.SystemPrompt, chapterTitle, chapterNumber, world.Name)
	if err != nil {
		return "", nil, err
	}

	rec := p.persistStage(world.ID, chapterNumber, chapterTitle, map[string]interface{}{
		"script": script,
	})
	return script, rec, nil
}

// GenerateChapterAudio 阶段二：合成音频 → 上传成持久 URL → 落库
// 上传链路全挂时保留内存字节供本次会话试听，记录上标记为未持久保存
type AudioResult struct {
	AudioBytes []byte        `json:"-"`
	AudioURL   string        `json:"audioUrl"`
	Durable    bool          `json:"durable"`
	Video      *models.Video `json:"video"`
}

func (p *Pipeline) GenerateChapterAudio(ctx context.Context, world *models.World, chapterNumber int, chapterTitle, script string) (*AudioResult, error) {
	if strings.TrimSpace(script) == "" {
		return nil, &ValidationError{Field: "script", Reason: "请先生成脚本"}
	}
	if p.Speech == nil {
		return nil, &ConfigError{Field: "elevenlabs.api_key"}
	}

	audio, err := p.Speech.Synthesize(ctx, script, world.VoiceID)
	if err != nil {
		return nil, err
	}

	result := &AudioResult{AudioBytes: audio}
	url, err := p.Relay.Publish(ctx, audio, "audio/mpeg")
	if err != nil {
		// 不中断：音频本身已经生成，只是没能持久化
		log.Printf("[pipeline] 音频上传失败，仅保留会话内字节: %v", err)
	} else {
		result.AudioURL = url
		result.Durable = true
	}

	fields := map[string]interface{}{"script": script}
	if result.Durable {
		fields["audio_url"] = result.AudioURL
	}
	result.Video = p.persistStage(world.ID, chapterNumber, chapterTitle, fields)
	return result, nil
}

// persistStage 把阶段产物写到机位 1 的记录上（没有就建占位记录）
func (p *Pipeline) persistStage(worldID string, chapterNumber int, chapterTitle string, fields map[string]interface{}) *models.Video {
	if rec := p.findAngleRecord(worldID, chapterNumber, 1); rec != nil {
		fields["chapter_title"] = chapterTitle
		updated, _ := p.Store.UpdateVideo(rec.ID, fields)
		return updated
	}
	placeholder := &models.Video{
		WorldID:       worldID,
		ChapterNumber: chapterNumber,
		ChapterTitle:  chapterTitle,
		Angle:         1,
		Status:        models.VideoStatusPending,
	}
	if s, ok := fields["script"].(string); ok {
		placeholder.Script = s
	}
	if u, ok := fields["audio_url"].(string); ok {
		placeholder.AudioURL = u
	}
	created, _ := p.Store.CreateVideo(placeholder)
	return created
}

// ChapterRenderRequest 阶段三的输入；AudioBytes/AudioURL 至少给一个，
// 都没给时回退到占位记录里存的 audio_url
type ChapterRenderRequest struct {
	ChapterNumber int
	ChapterTitle  string
	Script        string
	AudioURL      string
	AudioBytes    []byte
}

// ChapterRenderResult 各机位提交结果；未配置参考图的机位跳过不算失败
type ChapterRenderResult struct {
	AudioURL  string         `json:"audioUrl"`
	Submitted []models.Video `json:"submitted"`
	Skipped   []int          `json:"skipped"`
	Errors    []string       `json:"errors,omitempty"`
}

// GenerateChapterVideos 阶段三：逐机位提交渲染（严格按 1→2→3 的顺序，
// 机位 1 解析出的音频 URL 作为整章的权威 URL 供 2、3 复用）
func (p *Pipeline) GenerateChapterVideos(ctx context.Context, world *models.World, req ChapterRenderRequest) (*ChapterRenderResult, error) {
	if strings.TrimSpace(req.ChapterTitle) == "" {
		return nil, &ValidationError{Field: "chapter_title", Reason: "章节标题不能为空"}
	}
	if strings.TrimSpace(req.Script) == "" {
		return nil, &ValidationError{Field: "script", Reason: "请先生成脚本"}
	}
	// 一张参考图都没配就不该碰任何提供方接口
	if !world.HasAnyImage() {
		return nil, &ValidationError{Field: "image_key", Reason: "请先为至少一个机位上传参考图"}
	}

	audioURL, err := p.resolveAudioURL(ctx, world.ID, req)
	if err != nil {
		return nil, err
	}

	result := &ChapterRenderResult{AudioURL: audioURL}
	for angle := 1; angle <= models.MaxAngles; angle++ {
		imageKey := world.ImageKeyForAngle(angle)
		if imageKey == "" {
			result.Skipped = append(result.Skipped, angle)
			continue
		}

		title := fmt.Sprintf("%s - Chapter %d: %s (Angle %d)", world.Name, req.ChapterNumber, req.ChapterTitle, angle)
		sub, err := p.Render.RequestRender(ctx, imageKey, req.Script, audioURL, title)
		if err != nil {
			log.Printf("[pipeline] 机位 %d 渲染提交失败: %v", angle, err)
			result.Errors = append(result.Errors, fmt.Sprintf("angle %d: %v", angle, err))
			// 该机位已有记录的话标记失败
			if rec := p.findAngleRecord(world.ID, req.ChapterNumber, angle); rec != nil && rec.ExternalID != "" {
				_, _ = p.Store.UpdateVideo(rec.ID, map[string]interface{}{"status": models.VideoStatusFailed})
			}
			continue
		}

		rec := p.promoteAngleRecord(world.ID, req, angle, audioURL, sub)
		if rec != nil {
			result.Submitted = append(result.Submitted, *rec)
			if sub.Status == models.VideoStatusProcessing {
				p.StartPolling(rec.ID, sub.ExternalID)
			}
		}
	}

	if len(result.Submitted) == 0 {
		if len(result.Errors) > 0 {
			return result, fmt.Errorf("全部机位提交失败: %s", strings.Join(result.Errors, "; "))
		}
		return result, &ValidationError{Field: "image_key", Reason: "没有任何机位完成提交"}
	}
	return result, nil
}

// resolveAudioURL 解析本章的权威音频 URL：
// 优先复用已上传的持久 URL；只有内存字节就现上传；
// 只有 URL 且探测不可达时走重建路径——把字节拉回来重新发布
// （重载后内存字节不会存活，URL 会，所以这条路必须通）
func (p *Pipeline) resolveAudioURL(ctx context.Context, worldID string, req ChapterRenderRequest) (string, error) {
	url := req.AudioURL
	if url == "" {
		if rec := p.findAngleRecord(worldID, req.ChapterNumber, 1); rec != nil {
			url = rec.AudioURL
		}
	}

	if url != "" {
		if ok, _ := headOK(url, 10*time.Second); ok {
			return url, nil
		}
		log.Printf("[pipeline] 已存音频 URL 不可达，尝试取回重传: %s", url)
		if data, err := fetchBytes(ctx, url); err == nil {
			if fresh, err := p.Relay.Publish(ctx, data, "audio/mpeg"); err == nil {
				return fresh, nil
			}
		}
		// 重建失败仍用原 URL 提交，HeyGen 的拉取才是权威
		return url, nil
	}

	if len(req.AudioBytes) > 0 {
		fresh, err := p.Relay.Publish(ctx, req.AudioBytes, "audio/mpeg")
		if err != nil {
			return "", fmt.Errorf("音频上传失败: %w", err)
		}
		return fresh, nil
	}

	return "", &ValidationError{Field: "audio", Reason: "请先生成音频"}
}

func fetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// promoteAngleRecord 提交成功后就地提升记录：机位 1 复用占位记录（同一 id），
// 机位 2、3 没有记录就新建
func (p *Pipeline) promoteAngleRecord(worldID string, req ChapterRenderRequest, angle int, audioURL string, sub *RenderSubmission) *models.Video {
	fields := map[string]interface{}{
		"chapter_title": req.ChapterTitle,
		"script":        req.Script,
		"audio_url":     audioURL,
		"external_id":   sub.ExternalID,
		"status":        sub.Status,
	}
	if rec := p.findAngleRecord(worldID, req.ChapterNumber, angle); rec != nil {
		updated, _ := p.Store.UpdateVideo(rec.ID, fields)
		return updated
	}
	created, _ := p.Store.CreateVideo(&models.Video{
		WorldID:       worldID,
		ChapterNumber: req.ChapterNumber,
		ChapterTitle:  req.ChapterTitle,
		Angle:         angle,
		Script:        req.Script,
		AudioURL:      audioURL,
		ExternalID:    sub.ExternalID,
		Status:        sub.Status,
	})
	return created
}

// StartPolling 为一个渲染任务启动轮询；已有轮询在跑时返回 false
func (p *Pipeline) StartPolling(videoID, externalID string) bool {
	return p.Pollers.Start(videoID, func(ctx context.Context) {
		p.pollLoop(ctx, videoID, externalID)
	})
}

// pollLoop 每 PollInterval 查一次状态并落库，终态即停；
// 传输错误不停（计入次数上限），次数耗尽强制置为 failed
func (p *Pipeline) pollLoop(ctx context.Context, videoID, externalID string) {
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := p.Render.PollStatus(ctx, externalID)
		if err != nil {
			log.Printf("[poller] 渲染任务 %s 第 %d 次查询失败(重试中): %v", externalID, attempt, err)
			continue
		}

		fields := map[string]interface{}{"status": st.Status}
		if st.VideoURL != "" {
			fields["video_url"] = st.VideoURL
		}
		if _, err := p.Store.UpdateVideo(videoID, fields); err != nil {
			log.Printf("[poller] 写回渲染状态失败 %s: %v", videoID, err)
		}

		if st.Status == models.VideoStatusCompleted || st.Status == models.VideoStatusFailed {
			log.Printf("[poller] 渲染任务 %s 结束: %s", externalID, st.Status)
			return
		}
	}

	log.Printf("[poller] 渲染任务 %s 轮询超过 %d 次，强制置为 failed", externalID, p.MaxPollAttempts)
	_, _ = p.Store.UpdateVideo(videoID, map[string]interface{}{"status": models.VideoStatusFailed})
}

// RefreshStatus 单次手动刷新（UI 上的刷新按钮），查一次、落一次库
func (p *Pipeline) RefreshStatus(ctx context.Context, videoID, externalID string) (*RenderStatus, error) {
	st, err := p.Render.PollStatus(ctx, externalID)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{"status": st.Status}
	if st.VideoURL != "" {
		fields["video_url"] = st.VideoURL
	}
	if _, err := p.Store.UpdateVideo(videoID, fields); err != nil {
		log.Printf("[pipeline] 写回渲染状态失败 %s: %v", videoID, err)
	}
	return st, nil
}

// ResumePolling 启动时恢复轮询：扫出所有带外部任务 id 且仍在进行中、
// 又没有活跃轮询的渲染记录，逐个拉起。幂等——重复调用不会产生重复轮询
func (p *Pipeline) ResumePolling() int {
	videos, err := p.Store.ListVideos()
	if err != nil {
		log.Printf("[pipeline] 恢复轮询时读取 videos 失败: %v", err)
		return 0
	}
	resumed := 0
	for _, v := range videos {
		if v.ExternalID == "" {
			continue
		}
		if v.Status != models.VideoStatusPending && v.Status != models.VideoStatusProcessing {
			continue
		}
		if p.StartPolling(v.ID, v.ExternalID) {
			resumed++
			log.Printf("[pipeline] 恢复轮询: video=%s external=%s status=%s", v.ID, v.ExternalID, v.Status)
		}
	}
	return resumed
}

// Shutdown 进程拆除：清掉全部轮询定时器
func (p *Pipeline) Shutdown() {
	p.Pollers.StopAll()
}
