package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"WorldsDashboard-server/config"

	openai "github.com/sashabaranov/go-openai"
)

// 第二遍改写的系统指令：只允许插入方括号语音标注，不许动原文
// （标注只能描述声音，禁止音乐/动作/镜头类标签）
const audioTagEnhancementPrompt = `# Instructions

You are an AI assistant specializing in enhancing dialogue text for speech generation.

Your PRIMARY GOAL is to dynamically integrate audio tags (e.g., [laughing], [sighs]) into dialogue, making it more expressive for auditory experiences, while STRICTLY preserving the original text and meaning.

## Core Directives

DO:
* DO integrate audio tags to add expression, emotion, and realism. These tags MUST describe something auditory, and only for the voice.
* DO ensure all audio tags are contextually appropriate and genuinely enhance the emotion or subtext of the line they are attached to.
* DO place audio tags immediately before or immediately after the dialogue segment they modify (e.g., "[annoyed] This is hard." or "This is hard. [sighs]").
* DO strive for a diverse range of emotional expressions across the dialogue.

DO NOT:
* DO NOT alter, add, or remove any words from the original text itself. Your role is to prepend audio tags, not to edit the speech. Never place original text inside brackets.
* DO NOT create audio tags from existing narrative descriptions.
* DO NOT use tags such as [standing], [grinning], [pacing], [music].
* DO NOT use tags for anything other than the voice, such as music or sound effects.
* DO NOT invent new dialogue lines.

You may add emphasis by capitalizing words, or adding question marks, exclamation marks, or ellipses where they make sense, but you cannot change the words.

## Audio Tags (non-exhaustive)

Directions: [happy] [sad] [excited] [angry] [whisper] [annoyed] [appalled] [thoughtful] [surprised]
Non-verbal: [laughing] [chuckles] [sighs] [clears throat] [short pause] [long pause] [exhales sharply] [inhales deeply]

Reply ONLY with the enhanced text.`

const chapterListSystemPrompt = `You are a helpful assistant that provides chapter information for books. Return a JSON object with a "chapters" array. Each chapter should have "chapterNumber" (integer) and "chapterTitle" (string). Format: {"chapters": [{"chapterNumber": 1, "chapterTitle": "Chapter Title"}, ...]}`

// Chapter 章节列表建议的单个条目
type Chapter struct {
	Number int    `json:"chapterNumber"`
	Title  string `json:"chapterTitle"`
}

// ScriptProvider 脚本生成客户端（OpenAI chat completion，两遍式）
type ScriptProvider struct {
	client *openai.Client
	model  string
}

func NewScriptProvider() (*ScriptProvider, error) {
	cfg := config.AppConfig.OpenAI
	if cfg.APIKey == "" {
		return nil, &ConfigError{Field: "openai.api_key"}
	}
	return &ScriptProvider{
		client: openai.NewClient(cfg.APIKey),
		model:  cfg.Model,
	}, nil
}

func (p *ScriptProvider) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: "OpenAI", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return "", &TransportError{Op: "OpenAI completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: "OpenAI", StatusCode: 200, Body: "empty choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateScript 两遍生成：
// 第一遍用 World 的 system prompt 生成章节脚本（模板禁止"Imagine/Picture"式开场白），
// 第二遍只做语音标注增强。拆成两遍是为了内容正确性和朗读风格可以独立失败/调优
func (p *ScriptProvider) GenerateScript(ctx context.Context, systemPrompt, chapterTitle string, chapterNumber int, worldName string) (string, error) {
	userMsg := fmt.Sprintf(`Always begin your response directly with the first line of the script—no framing, no introductions.

Do NOT start with phrases such as "Imagine," "I remember," "Picture," "In this scenario," or similar.

Generate a script for Chapter %d: "%s" for the book "%s".`, chapterNumber, chapterTitle, worldName)

	initial, err := p.complete(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		MaxTokens: 1000,
	})
	if err != nil {
		return "", err
	}

	enhanced, err := p.complete(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: audioTagEnhancementPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Enhance the following script with audio tags:\n\n" + initial},
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", err
	}
	return enhanced, nil
}

// GenerateChapterList 让模型给出整本书的章节清单（结构化输出）
func (p *ScriptProvider) GenerateChapterList(ctx context.Context, bookTitle, author string) ([]Chapter, error) {
	if author == "" {
		author = "unknown author"
	}
	raw, err := p.complete(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: chapterListSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(`Provide all chapters for the book "%s" by %s. Return a JSON object with a "chapters" array containing chapterNumber and chapterTitle for each chapter.`, bookTitle, author)},
		},
		Temperature:    0.3,
		MaxTokens:      2000,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, err
	}
	return parseChapterList(raw)
}

// rawChapter 章节号可能是数字也可能是字符串，宽松接收
type rawChapter struct {
	ChapterNumber interface{} `json:"chapterNumber"`
	ChapterTitle  string      `json:"chapterTitle"`
}

var jsonArrayPattern = regexp.MustCompile(`\[[\s\S]*\]`)

// parseChapterList 按从严到宽的顺序依次尝试几种已知形状：
// 顶层数组 → {"chapters":[...]} → {"data":[...]} → 自由文本中第一个中括号数组
// 上游模型输出格式并不稳定，全部失败才算错
func parseChapterList(raw string) ([]Chapter, error) {
	trimmed := strings.TrimSpace(raw)

	var items []rawChapter
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		var wrapper struct {
			Chapters []rawChapter `json:"chapters"`
			Data     []rawChapter `json:"data"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err == nil && (len(wrapper.Chapters) > 0 || len(wrapper.Data) > 0) {
			items = wrapper.Chapters
			if len(items) == 0 {
				items = wrapper.Data
			}
		} else if m := jsonArrayPattern.FindString(trimmed); m != "" {
			if err := json.Unmarshal([]byte(m), &items); err != nil {
				return nil, &ParseError{What: "章节列表", Raw: raw}
			}
		} else {
			return nil, &ParseError{What: "章节列表", Raw: raw}
		}
	}

	var chapters []Chapter
	for _, it := range items {
		n := coerceInt(it.ChapterNumber)
		title := strings.TrimSpace(it.ChapterTitle)
		if n <= 0 || title == "" {
			continue
		}
		chapters = append(chapters, Chapter{Number: n, Title: title})
	}
	if len(chapters) == 0 {
		return nil, &ParseError{What: "章节列表", Raw: raw}
	}
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Number < chapters[j].Number })
	return chapters, nil
}

func coerceInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return 0
}
