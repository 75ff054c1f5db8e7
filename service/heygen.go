package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"WorldsDashboard-server/config"
	"WorldsDashboard-server/models"
)

// RenderProvider HeyGen 数字人视频客户端：
// 资产上传（参考图 → image key）、渲染提交、单次状态查询
type RenderProvider struct {
	APIKey        string
	BaseURL       string
	UploadBaseURL string
	Client        *http.Client
}

func NewRenderProvider() *RenderProvider {
	cfg := config.AppConfig.HeyGen
	return &RenderProvider{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		UploadBaseURL: "https://upload.heygen.com",
		// 提交接口偶发挂起，30 秒上限（通常意味着 HeyGen 拉不到音频 URL）
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// NormalizeStatus 把 HeyGen 的原始状态词表归一化到系统内的四个状态
// 未知状态不崩溃：打日志并按"仍在进行"处理
func NormalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "waiting", "pending":
		return models.VideoStatusPending
	case "processing", "generating":
		return models.VideoStatusProcessing
	case "completed", "done", "success":
		return models.VideoStatusCompleted
	case "failed", "error", "cancelled":
		return models.VideoStatusFailed
	default:
		log.Printf("[heygen] 未知状态 %q，按 pending 处理", raw)
		return models.VideoStatusPending
	}
}

// UploadImageAsset 上传参考图，返回 HeyGen 资产库的 image key
func (p *RenderProvider) UploadImageAsset(ctx context.Context, data []byte, contentType string) (string, error) {
	if p.APIKey == "" {
		return "", &ConfigError{Field: "heygen.api_key"}
	}
	if len(data) == 0 {
		return "", &ValidationError{Field: "image", Reason: "图片内容为空"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.UploadBaseURL+"/v1/asset", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("X-Api-Key", p.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", &TransportError{Op: "HeyGen 资产上传", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Provider: "HeyGen", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var respData struct {
		Data struct {
			ImageKey string `json:"image_key"`
			URL      string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &respData); err != nil {
		return "", fmt.Errorf("decode response failed: %w", err)
	}
	if respData.Data.ImageKey == "" {
		return "", &ProviderError{Provider: "HeyGen", StatusCode: resp.StatusCode, Body: "response missing image_key"}
	}
	return respData.Data.ImageKey, nil
}

// RenderSubmission 渲染提交结果
type RenderSubmission struct {
	ExternalID string
	Status     string
}

// RequestRender 提交一个渲染任务：一张参考图 + 一条共享音频 URL
// script 虽然不承载旁白（音频才是），但 HeyGen 用它做口型/时长对齐，必填
func (p *RenderProvider) RequestRender(ctx context.Context, imageKey, script, audioURL, title string) (*RenderSubmission, error) {
	if p.APIKey == "" {
		return nil, &ConfigError{Field: "heygen.api_key"}
	}
	if strings.TrimSpace(imageKey) == "" {
		return nil, &ValidationError{Field: "image_key", Reason: "该机位未配置参考图"}
	}
	if strings.TrimSpace(script) == "" {
		return nil, &ValidationError{Field: "script", Reason: "脚本为空"}
	}

	// 预检音频 URL 可达性，失败只告警不拦截——HeyGen 自己的拉取才是权威
	if ok, status := headOK(audioURL, 10*time.Second); !ok {
		log.Printf("[heygen] 音频 URL 预检失败 (status=%d)，继续提交: %s", status, audioURL)
	}

	reqBody := map[string]interface{}{
		"video_title": title,
		"script":      script,
		"video_inputs": []map[string]interface{}{
			{
				"character": map[string]interface{}{
					"type":             "talking_photo",
					"talking_photo_id": strings.TrimSpace(imageKey),
				},
				"voice": map[string]interface{}{
					"type":      "audio",
					"audio_url": audioURL,
				},
			},
		},
		// 免费套餐导出上限 720p
		"dimension": map[string]int{"width": 1280, "height": 720},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v2/video/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("X-Api-Key", p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		// 超时大概率是 HeyGen 拉不动音频 URL
		return nil, &TransportError{Op: "HeyGen 渲染提交（音频 URL 可能不可达）", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: "HeyGen", StatusCode: resp.StatusCode, Body: string(body)}
	}

	// v2 响应里 video_id 的位置不完全稳定，逐个兜底
	var respData struct {
		VideoID string `json:"video_id"`
		Status  string `json:"status"`
		Data    struct {
			VideoID string `json:"video_id"`
			ID      string `json:"id"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &respData); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}
	externalID := respData.Data.VideoID
	if externalID == "" {
		externalID = respData.VideoID
	}
	if externalID == "" {
		externalID = respData.Data.ID
	}
	if externalID == "" {
		return nil, &ProviderError{Provider: "HeyGen", StatusCode: resp.StatusCode, Body: "response missing video_id"}
	}
	status := respData.Data.Status
	if status == "" {
		status = respData.Status
	}
	if status == "" {
		status = "processing"
	}
	return &RenderSubmission{ExternalID: externalID, Status: NormalizeStatus(status)}, nil
}

// RenderStatus 单次状态查询结果
type RenderStatus struct {
	Status   string
	VideoURL string
}

// PollStatus 查询一次渲染状态（v1 video_status.get）
func (p *RenderProvider) PollStatus(ctx context.Context, externalID string) (*RenderStatus, error) {
	if p.APIKey == "" {
		return nil, &ConfigError{Field: "heygen.api_key"}
	}
	statusURL := p.BaseURL + "/v1/video_status.get?video_id=" + url.QueryEscape(externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("X-Api-Key", p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "HeyGen 状态查询", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: "HeyGen", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var respData struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Data     struct {
			Status   string `json:"status"`
			VideoURL string `json:"video_url"`
			URL      string `json:"url"`
			Error    *struct {
				Code    interface{} `json:"code"`
				Message string      `json:"message"`
			} `json:"error"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &respData); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}
	if respData.Data.Error != nil && respData.Data.Error.Message != "" {
		log.Printf("[heygen] 渲染任务 %s 上报错误: %s", externalID, respData.Data.Error.Message)
	}

	status := respData.Data.Status
	if status == "" {
		status = respData.Status
	}
	videoURL := respData.Data.VideoURL
	if videoURL == "" {
		videoURL = respData.Data.URL
	}
	if videoURL == "" {
		videoURL = respData.VideoURL
	}
	return &RenderStatus{Status: NormalizeStatus(status), VideoURL: videoURL}, nil
}

// ListAvatars 调试用：透传 HeyGen 账号下的数字人列表
func (p *RenderProvider) ListAvatars(ctx context.Context) (map[string]interface{}, error) {
	if p.APIKey == "" {
		return nil, &ConfigError{Field: "heygen.api_key"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/v1/avatars", nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("X-Api-Key", p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "HeyGen 数字人列表", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: "HeyGen", StatusCode: resp.StatusCode, Body: string(body)}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}
	return out, nil
}
