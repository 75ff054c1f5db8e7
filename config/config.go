package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	LocalStore struct {
		Path string `yaml:"path"`
	} `yaml:"local_store"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	OpenAI struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`
	ElevenLabs struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"elevenlabs"`
	HeyGen struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"heygen"`

	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`

	Pipeline struct {
		PollIntervalSec int `yaml:"poll_interval_sec"`
		MaxPollAttempts int `yaml:"max_poll_attempts"`
	} `yaml:"pipeline"`
}

var AppConfig *Config

func InitConfig() {
	f, err := os.Open("config/config.yaml")
	if err != nil {
		log.Fatalf("配置文件读取失败: %v", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	AppConfig = &Config{}
	if err := decoder.Decode(AppConfig); err != nil {
		log.Fatalf("配置文件解析失败: %v", err)
	}

	// 轮询参数默认值（5 秒 × 240 次，约 20 分钟上限）
	if AppConfig.Pipeline.PollIntervalSec <= 0 {
		AppConfig.Pipeline.PollIntervalSec = 5
	}
	if AppConfig.Pipeline.MaxPollAttempts <= 0 {
		AppConfig.Pipeline.MaxPollAttempts = 240
	}
	if AppConfig.HeyGen.BaseURL == "" {
		AppConfig.HeyGen.BaseURL = "https://api.heygen.com"
	}
	if AppConfig.ElevenLabs.BaseURL == "" {
		AppConfig.ElevenLabs.BaseURL = "https://api.elevenlabs.io/v1"
	}
	if AppConfig.OpenAI.Model == "" {
		AppConfig.OpenAI.Model = "gpt-4o"
	}
	if AppConfig.LocalStore.Path == "" {
		AppConfig.LocalStore.Path = "data/local_store.json"
	}
}
