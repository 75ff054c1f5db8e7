package models

import (
	"sort"
	"time"
)

// 渲染状态（系统内统一使用这四个值，HeyGen 原始状态在 service 层归一化）
const (
	VideoStatusPending    = "pending"
	VideoStatusProcessing = "processing"
	VideoStatusCompleted  = "completed"
	VideoStatusFailed     = "failed"
)

// 每个 World 最多 3 个机位
const MaxAngles = 3

// Video 表示一次渲染任务：一个章节 × 一个机位
// ExternalID 为 HeyGen 签发的 video_id；status=pending 且 ExternalID 为空的记录
// 是占位记录（placeholder），仅用于在发起渲染前持久化脚本/音频
type Video struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	WorldID       string    `json:"worldId"`
	ChapterNumber int       `json:"chapterNumber"`
	ChapterTitle  string    `json:"chapterTitle"`
	Angle         int       `json:"angle"`
	Script        string    `json:"script"`
	AudioURL      string    `json:"audioUrl"`
	ExternalID    string    `json:"externalId"`
	Status        string    `json:"status"`
	VideoURL      string    `json:"videoUrl"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (Video) TableName() string {
	return "video"
}

// IsPlaceholder 占位记录：还没发给 HeyGen，不能作为"已生成章节"展示
func (v *Video) IsPlaceholder() bool {
	return v.Status == VideoStatusPending && v.ExternalID == ""
}

// ChapterGroup 同一章节号+标题下各机位渲染任务的集合
type ChapterGroup struct {
	ChapterNumber int     `json:"chapterNumber"`
	ChapterTitle  string  `json:"chapterTitle"`
	Script        string  `json:"script"`
	AudioURL      string  `json:"audioUrl"`
	Generated     bool    `json:"generated"`
	Videos        []Video `json:"videos"`
}

// GroupChapters 把一个 World 的渲染任务按章节聚合
// Generated=false 的组只有占位记录，前端按"可编辑章节"展示；
// Videos 里只保留非占位记录（占位记录的脚本/音频提升到组字段上）
func GroupChapters(videos []Video) []ChapterGroup {
	type key struct {
		number int
		title  string
	}
	index := make(map[key]*ChapterGroup)
	var order []key

	for _, v := range videos {
		k := key{v.ChapterNumber, v.ChapterTitle}
		g, ok := index[k]
		if !ok {
			g = &ChapterGroup{ChapterNumber: v.ChapterNumber, ChapterTitle: v.ChapterTitle}
			index[k] = g
			order = append(order, k)
		}
		if g.Script == "" {
			g.Script = v.Script
		}
		if g.AudioURL == "" {
			g.AudioURL = v.AudioURL
		}
		if v.IsPlaceholder() {
			continue
		}
		g.Generated = true
		g.Videos = append(g.Videos, v)
	}

	groups := make([]ChapterGroup, 0, len(order))
	for _, k := range order {
		g := index[k]
		sort.Slice(g.Videos, func(i, j int) bool { return g.Videos[i].Angle < g.Videos[j].Angle })
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].ChapterNumber != groups[j].ChapterNumber {
			return groups[i].ChapterNumber < groups[j].ChapterNumber
		}
		return groups[i].ChapterTitle < groups[j].ChapterTitle
	})
	return groups
}

// NextChapterNumber 建议的下一个章节号 = max(现有)+1，仅作 UI 提示，不强制
func NextChapterNumber(videos []Video) int {
	max := 0
	for _, v := range videos {
		if v.ChapterNumber > max {
			max = v.ChapterNumber
		}
	}
	return max + 1
}
