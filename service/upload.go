package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"WorldsDashboard-server/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Relay 把一段临时字节变成可公开拉取的持久 URL
// HeyGen 只认 URL 不收内联字节，所以音频必须先落到某个可公开访问的地方。
// 按顺序尝试：MinIO（若配置）→ 0x0.st → tmpfiles.org → file.io（最后手段，1 天过期）
type Relay struct {
	Minio  *minio.Client
	Bucket string
	Domain string

	ZeroXURL    string
	TmpFilesURL string
	FileIOURL   string

	Client *http.Client
}

func NewRelay() *Relay {
	r := &Relay{
		ZeroXURL:    "https://0x0.st",
		TmpFilesURL: "https://tmpfiles.org/api/v1/upload",
		FileIOURL:   "https://file.io",
		Client:      &http.Client{Timeout: 60 * time.Second},
	}
	cfg := config.AppConfig.MinIO
	if cfg.Endpoint != "" && cfg.AccessKey != "" {
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			log.Printf("MinIO 初始化失败（跳过该后端）: %v", err)
		} else {
			r.Minio = client
			r.Bucket = cfg.Bucket
			r.Domain = cfg.Domain
		}
	}
	return r
}

// headOK 对 URL 发一次 HEAD 探测，返回是否 2xx 和状态码（0 表示网络失败）
func headOK(rawURL string, timeout time.Duration) (bool, int) {
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequest(http.MethodHead, rawURL, nil)
	if err != nil {
		return false, 0
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, 0
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode
}

// Publish 依次尝试各后端，首个成功即返回；全部失败时把每个后端的失败原因拼进一个错误
func (r *Relay) Publish(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", &ValidationError{Field: "data", Reason: "内容为空"}
	}
	var attempts []string

	if r.Minio != nil {
		url, err := r.publishMinio(ctx, data, mimeType)
		if err == nil {
			return url, nil
		}
		log.Printf("[relay] MinIO 上传失败: %v", err)
		attempts = append(attempts, fmt.Sprintf("minio: %v", err))
	}

	if url, err := r.publishZeroX(ctx, data, mimeType); err == nil {
		return url, nil
	} else {
		log.Printf("[relay] 0x0.st 上传失败: %v", err)
		attempts = append(attempts, fmt.Sprintf("0x0.st: %v", err))
	}

	if url, err := r.publishTmpFiles(ctx, data, mimeType); err == nil {
		return url, nil
	} else {
		log.Printf("[relay] tmpfiles.org 上传失败: %v", err)
		attempts = append(attempts, fmt.Sprintf("tmpfiles.org: %v", err))
	}

	if url, err := r.publishFileIO(ctx, data, mimeType); err == nil {
		return url, nil
	} else {
		log.Printf("[relay] file.io 上传失败: %v", err)
		attempts = append(attempts, fmt.Sprintf("file.io: %v", err))
	}

	return "", fmt.Errorf("所有上传后端均失败: %s", strings.Join(attempts, "; "))
}

func (r *Relay) publishMinio(ctx context.Context, data []byte, mimeType string) (string, error) {
	exists, err := r.Minio.BucketExists(ctx, r.Bucket)
	if err != nil {
		return "", fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		if err := r.Minio.MakeBucket(ctx, r.Bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("创建 Bucket 失败: %w", err)
		}
	}

	objectName := fmt.Sprintf("audio/%d-%s.mp3", time.Now().UnixMilli(), uuid.NewString()[:8])
	_, err = r.Minio.PutObject(ctx, r.Bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}

	publicURL := strings.TrimRight(r.Domain, "/") + "/" + r.Bucket + "/" + objectName
	// 下游 HeyGen 会自己来拉这个 URL；bucket 没设公开读时故障只会表现为
	// 莫名其妙的下游 5xx，这里先探测一次，失败仅告警
	if ok, status := headOK(publicURL, 10*time.Second); !ok {
		log.Printf("[relay] ⚠️ MinIO 公开 URL 探测失败 (status=%d)，请确认 bucket %q 允许公开读: %s", status, r.Bucket, publicURL)
	}
	return publicURL, nil
}

// multipartBody 构造单文件 multipart 表单
func multipartBody(fieldName, fileName string, data []byte, mimeType string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(fieldName, fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	_ = mimeType
	return buf, w.FormDataContentType(), nil
}

func (r *Relay) publishZeroX(ctx context.Context, data []byte, mimeType string) (string, error) {
	buf, contentType, err := multipartBody("file", "audio.mp3", data, mimeType)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.ZeroXURL, buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	url := strings.TrimSpace(string(body))
	if !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("unexpected body: %s", url)
	}
	return url, nil
}

func (r *Relay) publishTmpFiles(ctx context.Context, data []byte, mimeType string) (string, error) {
	buf, contentType, err := multipartBody("file", "audio.mp3", data, mimeType)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.TmpFilesURL, buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var respData struct {
		Status string `json:"status"`
		Data   struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &respData); err != nil {
		return "", fmt.Errorf("decode response failed: %w", err)
	}
	if respData.Status != "success" || respData.Data.URL == "" {
		return "", fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body)))
	}
	// tmpfiles 返回 http 下载链接，HeyGen 可能拒收非 https，统一改写
	return strings.Replace(respData.Data.URL, "http://", "https://", 1), nil
}

func (r *Relay) publishFileIO(ctx context.Context, data []byte, mimeType string) (string, error) {
	buf, contentType, err := multipartBody("file", "audio.mp3", data, mimeType)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.FileIOURL+"?expires=1d", buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	// file.io 出错时可能回 HTML 页面而不是 JSON，先看首字符
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return "", fmt.Errorf("HTML response instead of JSON")
	}
	var respData struct {
		Success bool   `json:"success"`
		Link    string `json:"link"`
	}
	if err := json.Unmarshal([]byte(trimmed), &respData); err != nil {
		return "", fmt.Errorf("decode response failed: %w", err)
	}
	if !respData.Success || respData.Link == "" {
		return "", fmt.Errorf("response missing link")
	}
	return respData.Link, nil
}
