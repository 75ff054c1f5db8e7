package models

import (
	"log"
	"time"
)

// Store 制品存储契约：World / Video 两类实体的增删改查
// 部分更新的 fields 以列名（snake_case）为 key，和 SQL / gorm Updates 保持一致
type Store interface {
	ListWorlds() ([]World, error)
	GetWorld(id string) (*World, error)
	CreateWorld(w *World) (*World, error)
	UpdateWorld(id string, fields map[string]interface{}) (*World, error)
	DeleteWorld(id string) error

	ListVideos() ([]Video, error)
	ListVideosByWorld(worldID string) ([]Video, error)
	GetVideo(id string) (*Video, error)
	CreateVideo(v *Video) (*Video, error)
	UpdateVideo(id string, fields map[string]interface{}) (*Video, error)
	DeleteVideo(id string) error
}

// FallbackStore 先写远端（MySQL），失败时降级到本地 JSON 存储
// create/update 对调用方永不报错：管线进度不能因为数据库抖动丢失，
// 降级只打日志（持久化保证变弱，但调用方总能拿到带 id 的有效记录）
type FallbackStore struct {
	Remote Store
	Local  *LocalStore
}

func NewFallbackStore(remote Store, local *LocalStore) *FallbackStore {
	return &FallbackStore{Remote: remote, Local: local}
}

func (s *FallbackStore) ListWorlds() ([]World, error) {
	ws, err := s.Remote.ListWorlds()
	if err != nil {
		log.Printf("[store] 远端读取 worlds 失败，使用本地数据: %v", err)
		return s.Local.ListWorlds()
	}
	return ws, nil
}

func (s *FallbackStore) GetWorld(id string) (*World, error) {
	w, err := s.Remote.GetWorld(id)
	if err != nil {
		return s.Local.GetWorld(id)
	}
	return w, nil
}

func (s *FallbackStore) CreateWorld(w *World) (*World, error) {
	created, err := s.Remote.CreateWorld(w)
	if err != nil {
		log.Printf("[store] 远端创建 world 失败，降级到本地: %v", err)
		return s.Local.CreateWorld(w)
	}
	return created, nil
}

func (s *FallbackStore) UpdateWorld(id string, fields map[string]interface{}) (*World, error) {
	updated, err := s.Remote.UpdateWorld(id, fields)
	if err != nil {
		log.Printf("[store] 远端更新 world %s 失败，降级到本地: %v", id, err)
		return s.Local.UpdateWorld(id, fields)
	}
	return updated, nil
}

func (s *FallbackStore) DeleteWorld(id string) error {
	if err := s.Remote.DeleteWorld(id); err != nil {
		log.Printf("[store] 远端删除 world %s 失败，降级到本地: %v", id, err)
		return s.Local.DeleteWorld(id)
	}
	// 本地可能存有降级期间写入的副本，一并清掉
	_ = s.Local.DeleteWorld(id)
	return nil
}

func (s *FallbackStore) ListVideos() ([]Video, error) {
	vs, err := s.Remote.ListVideos()
	if err != nil {
		log.Printf("[store] 远端读取 videos 失败，使用本地数据: %v", err)
		return s.Local.ListVideos()
	}
	return vs, nil
}

func (s *FallbackStore) ListVideosByWorld(worldID string) ([]Video, error) {
	vs, err := s.Remote.ListVideosByWorld(worldID)
	if err != nil {
		log.Printf("[store] 远端读取 world %s 的 videos 失败，使用本地数据: %v", worldID, err)
		return s.Local.ListVideosByWorld(worldID)
	}
	return vs, nil
}

func (s *FallbackStore) GetVideo(id string) (*Video, error) {
	v, err := s.Remote.GetVideo(id)
	if err != nil {
		return s.Local.GetVideo(id)
	}
	return v, nil
}

func (s *FallbackStore) CreateVideo(v *Video) (*Video, error) {
	created, err := s.Remote.CreateVideo(v)
	if err != nil {
		log.Printf("[store] 远端创建 video 失败，降级到本地: %v", err)
		return s.Local.CreateVideo(v)
	}
	return created, nil
}

func (s *FallbackStore) UpdateVideo(id string, fields map[string]interface{}) (*Video, error) {
	updated, err := s.Remote.UpdateVideo(id, fields)
	if err != nil {
		log.Printf("[store] 远端更新 video %s 失败，降级到本地: %v", id, err)
		return s.Local.UpdateVideo(id, fields)
	}
	return updated, nil
}

func (s *FallbackStore) DeleteVideo(id string) error {
	if err := s.Remote.DeleteVideo(id); err != nil {
		log.Printf("[store] 远端删除 video %s 失败，降级到本地: %v", id, err)
		return s.Local.DeleteVideo(id)
	}
	_ = s.Local.DeleteVideo(id)
	return nil
}

// applyWorldFields 把部分更新字段套到实体上（本地存储与合成记录共用）
func applyWorldFields(w *World, fields map[string]interface{}) {
	for k, val := range fields {
		s, _ := val.(string)
		switch k {
		case "name":
			w.Name = s
		case "author":
			w.Author = s
		case "voice_id":
			w.VoiceID = s
		case "image_key_1":
			w.ImageKey1 = s
		case "image_key_2":
			w.ImageKey2 = s
		case "image_key_3":
			w.ImageKey3 = s
		case "system_prompt":
			w.SystemPrompt = s
		}
	}
	w.UpdatedAt = time.Now()
}

func applyVideoFields(v *Video, fields map[string]interface{}) {
	for k, val := range fields {
		switch k {
		case "chapter_title":
			v.ChapterTitle, _ = val.(string)
		case "chapter_number":
			switch n := val.(type) {
			case int:
				v.ChapterNumber = n
			case float64:
				v.ChapterNumber = int(n)
			}
		case "angle":
			switch n := val.(type) {
			case int:
				v.Angle = n
			case float64:
				v.Angle = int(n)
			}
		case "script":
			v.Script, _ = val.(string)
		case "audio_url":
			v.AudioURL, _ = val.(string)
		case "external_id":
			v.ExternalID, _ = val.(string)
		case "status":
			v.Status, _ = val.(string)
		case "video_url":
			v.VideoURL, _ = val.(string)
		}
	}
	v.UpdatedAt = time.Now()
}
