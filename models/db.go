package models

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"WorldsDashboard-server/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	dsn := config.AppConfig.MySQL.DSN
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("GORM 初始化失败: %v", err)
	}

	log.Println("数据库连接成功 (Native SQL + GORM)")

	// 自动建表（读取 doc/sql/WorldsDashboard.sql）
	b, err := os.ReadFile("doc/sql/WorldsDashboard.sql")
	if err != nil {
		log.Printf("读取 SQL 文件失败（跳过建表）: %v", err)
		return
	}
	sqls := strings.Split(string(b), ";")
	for _, s := range sqls {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := DB.Exec(s); err != nil {
			log.Printf("执行建表语句失败: %v ; sql: %s", err, s)
		}
	}
}

// RemoteStore MySQL 实现：读走原生 SQL（NULL 列用 NullString 兜底），
// 部分更新走 gorm 的 Model(...).Updates(...)（共享同一个底层连接）
type RemoteStore struct {
	DB   *sql.DB
	Gorm *gorm.DB
}

func NewRemoteStore(db *sql.DB, gdb *gorm.DB) *RemoteStore {
	return &RemoteStore{DB: db, Gorm: gdb}
}

const worldColumns = `id, name, author, voice_id, image_key_1, image_key_2, image_key_3, system_prompt, created_at, updated_at`

func scanWorld(row interface{ Scan(...interface{}) error }) (*World, error) {
	var w World
	if err := row.Scan(&w.ID, &w.Name, &w.Author, &w.VoiceID, &w.ImageKey1, &w.ImageKey2, &w.ImageKey3, &w.SystemPrompt, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *RemoteStore) ListWorlds() ([]World, error) {
	rows, err := s.DB.Query(`SELECT ` + worldColumns + ` FROM world ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []World
	for rows.Next() {
		w, err := scanWorld(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *w)
	}
	return res, rows.Err()
}

func (s *RemoteStore) GetWorld(id string) (*World, error) {
	row := s.DB.QueryRow(`SELECT `+worldColumns+` FROM world WHERE id = ?`, id)
	return scanWorld(row)
}

func (s *RemoteStore) CreateWorld(w *World) (*World, error) {
	rec := *w
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	_, err := s.DB.Exec(
		`INSERT INTO world (`+worldColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Author, rec.VoiceID, rec.ImageKey1, rec.ImageKey2, rec.ImageKey3, rec.SystemPrompt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// 允许部分更新的列（白名单，防止拼接未知列）
var worldUpdatable = map[string]bool{
	"name": true, "author": true, "voice_id": true,
	"image_key_1": true, "image_key_2": true, "image_key_3": true,
	"system_prompt": true,
}

func (s *RemoteStore) UpdateWorld(id string, fields map[string]interface{}) (*World, error) {
	updates := map[string]interface{}{"updated_at": time.Now()}
	for k, v := range fields {
		if worldUpdatable[k] {
			updates[k] = v
		}
	}
	if err := s.Gorm.Model(&World{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetWorld(id)
}

func (s *RemoteStore) DeleteWorld(id string) error {
	// 先删渲染记录再删 world（级联）
	if _, err := s.DB.Exec(`DELETE FROM video WHERE world_id = ?`, id); err != nil {
		return err
	}
	_, err := s.DB.Exec(`DELETE FROM world WHERE id = ?`, id)
	return err
}

const videoColumns = `id, world_id, chapter_number, chapter_title, angle, script, audio_url, external_id, status, video_url, created_at, updated_at`

func scanVideo(row interface{ Scan(...interface{}) error }) (*Video, error) {
	var v Video
	var audioURL, externalID, videoURL sql.NullString
	if err := row.Scan(&v.ID, &v.WorldID, &v.ChapterNumber, &v.ChapterTitle, &v.Angle, &v.Script, &audioURL, &externalID, &v.Status, &videoURL, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.AudioURL = audioURL.String
	v.ExternalID = externalID.String
	v.VideoURL = videoURL.String
	return &v, nil
}

func (s *RemoteStore) ListVideos() ([]Video, error) {
	return s.queryVideos(`SELECT ` + videoColumns + ` FROM video ORDER BY created_at DESC`)
}

func (s *RemoteStore) ListVideosByWorld(worldID string) ([]Video, error) {
	return s.queryVideos(`SELECT `+videoColumns+` FROM video WHERE world_id = ? ORDER BY chapter_number ASC, angle ASC`, worldID)
}

func (s *RemoteStore) queryVideos(query string, args ...interface{}) ([]Video, error) {
	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *v)
	}
	return res, rows.Err()
}

func (s *RemoteStore) GetVideo(id string) (*Video, error) {
	row := s.DB.QueryRow(`SELECT `+videoColumns+` FROM video WHERE id = ?`, id)
	return scanVideo(row)
}

func (s *RemoteStore) CreateVideo(v *Video) (*Video, error) {
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
	_, err := s.DB.Exec(
		`INSERT INTO video (`+videoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorldID, rec.ChapterNumber, rec.ChapterTitle, rec.Angle, rec.Script, rec.AudioURL, rec.ExternalID, rec.Status, rec.VideoURL, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var videoUpdatable = map[string]bool{
	"chapter_number": true, "chapter_title": true, "angle": true,
	"script": true, "audio_url": true, "external_id": true,
	"status": true, "video_url": true,
}

func (s *RemoteStore) UpdateVideo(id string, fields map[string]interface{}) (*Video, error) {
	updates := map[string]interface{}{"updated_at": time.Now()}
	for k, v := range fields {
		if videoUpdatable[k] {
			updates[k] = v
		}
	}
	if err := s.Gorm.Model(&Video{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetVideo(id)
}

func (s *RemoteStore) DeleteVideo(id string) error {
	_, err := s.DB.Exec(`DELETE FROM video WHERE id = ?`, id)
	return err
}
