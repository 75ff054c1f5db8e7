package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"WorldsDashboard-server/config"
)

// SpeechProvider ElevenLabs 文本转语音客户端
// 只产出内存中的音频字节，持久化交给上传链路（Relay）负责
type SpeechProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewSpeechProvider() *SpeechProvider {
	cfg := config.AppConfig.ElevenLabs
	return &SpeechProvider{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Synthesize 生成一段旁白音频（mp3 字节）
func (p *SpeechProvider) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if p.APIKey == "" {
		return nil, &ConfigError{Field: "elevenlabs.api_key"}
	}
	if voiceID == "" {
		return nil, &ValidationError{Field: "voice_id", Reason: "音频生成需要配置 Voice ID"}
	}

	body, err := json.Marshal(map[string]interface{}{
		"text":     text,
		"model_id": "eleven_monolingual_v1",
		"voice_settings": map[string]interface{}{
			"stability":        0.5,
			"similarity_boost": 0.5,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	url := p.BaseURL + "/text-to-speech/" + voiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "ElevenLabs TTS", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &ProviderError{Provider: "ElevenLabs", StatusCode: resp.StatusCode, Body: string(b)}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "ElevenLabs TTS 读取响应", Err: err}
	}
	return audio, nil
}
