package models

import "time"

// World 表示一本正在转换成旁白视频的书（项目实体）
// ImageKey1..3 为 HeyGen 资产库签发的参考图 key，按机位(angle)各存一个，
// 这些 key 属于 HeyGen，不能跨服务复用
type World struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name         string    `json:"name"`
	Author       string    `json:"author"`
	VoiceID      string    `json:"voiceId"`
	ImageKey1    string    `json:"imageKey1"`
	ImageKey2    string    `json:"imageKey2"`
	ImageKey3    string    `json:"imageKey3"`
	SystemPrompt string    `json:"systemPrompt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (World) TableName() string {
	return "world"
}

// ImageKeyForAngle 返回指定机位的参考图 key，机位非法时返回空串
func (w *World) ImageKeyForAngle(angle int) string {
	switch angle {
	case 1:
		return w.ImageKey1
	case 2:
		return w.ImageKey2
	case 3:
		return w.ImageKey3
	}
	return ""
}

// HasAnyImage 判断该 World 是否至少配置了一个机位参考图
func (w *World) HasAnyImage() bool {
	return w.ImageKey1 != "" || w.ImageKey2 != "" || w.ImageKey3 != ""
}
