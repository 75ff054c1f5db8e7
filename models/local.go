package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalStore 本地 JSON 文件存储，MySQL 不可用时的替补
// 文件整体读入内存，每次写操作全量回写（数据量是单用户级别的，不值得上嵌入式库）
type LocalStore struct {
	mu   sync.Mutex
	path string
	data localData
}

type localData struct {
	Worlds []World `json:"worlds"`
	Videos []Video `json:"videos"`
}

func NewLocalStore(path string) (*LocalStore, error) {
	s := &LocalStore{path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("读取本地存储文件失败: %w", err)
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &s.data); err != nil {
			return nil, fmt.Errorf("解析本地存储文件失败: %w", err)
		}
	}
	return s, nil
}

// persist 调用方必须持有 s.mu
func (s *LocalStore) persist() {
	if s.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return
	}
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, b, 0o644)
}

func (s *LocalStore) ListWorlds() ([]World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]World, len(s.data.Worlds))
	copy(out, s.data.Worlds)
	return out, nil
}

func (s *LocalStore) GetWorld(id string) (*World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Worlds {
		if s.data.Worlds[i].ID == id {
			w := s.data.Worlds[i]
			return &w, nil
		}
	}
	return nil, fmt.Errorf("world %s not found", id)
}

func (s *LocalStore) CreateWorld(w *World) (*World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := *w
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.data.Worlds = append(s.data.Worlds, rec)
	s.persist()
	return &rec, nil
}

// UpdateWorld 未知 id 不报错：合成一条 id+更新字段 的记录返回，
// 让上层乐观继续（原始记录可能只存在于远端）
func (s *LocalStore) UpdateWorld(id string, fields map[string]interface{}) (*World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Worlds {
		if s.data.Worlds[i].ID == id {
			applyWorldFields(&s.data.Worlds[i], fields)
			s.persist()
			w := s.data.Worlds[i]
			return &w, nil
		}
	}
	w := &World{ID: id}
	applyWorldFields(w, fields)
	return w, nil
}

func (s *LocalStore) DeleteWorld(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	worlds := s.data.Worlds[:0]
	for _, w := range s.data.Worlds {
		if w.ID != id {
			worlds = append(worlds, w)
		}
	}
	s.data.Worlds = worlds
	// 级联删除该 world 的渲染记录
	videos := s.data.Videos[:0]
	for _, v := range s.data.Videos {
		if v.WorldID != id {
			videos = append(videos, v)
		}
	}
	s.data.Videos = videos
	s.persist()
	return nil
}

func (s *LocalStore) ListVideos() ([]Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Video, len(s.data.Videos))
	copy(out, s.data.Videos)
	return out, nil
}

func (s *LocalStore) ListVideosByWorld(worldID string) ([]Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Video
	for _, v := range s.data.Videos {
		if v.WorldID == worldID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *LocalStore) GetVideo(id string) (*Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Videos {
		if s.data.Videos[i].ID == id {
			v := s.data.Videos[i]
			return &v, nil
		}
	}
	return nil, fmt.Errorf("video %s not found", id)
}

func (s *LocalStore) CreateVideo(v *Video) (*Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := *v
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = VideoStatusPending
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.data.Videos = append(s.data.Videos, rec)
	s.persist()
	return &rec, nil
}

func (s *LocalStore) UpdateVideo(id string, fields map[string]interface{}) (*Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Videos {
		if s.data.Videos[i].ID == id {
			applyVideoFields(&s.data.Videos[i], fields)
			s.persist()
			v := s.data.Videos[i]
			return &v, nil
		}
	}
	v := &Video{ID: id}
	applyVideoFields(v, fields)
	return v, nil
}

func (s *LocalStore) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	videos := s.data.Videos[:0]
	for _, v := range s.data.Videos {
		if v.ID != id {
			videos = append(videos, v)
		}
	}
	s.data.Videos = videos
	s.persist()
	return nil
}
