package util

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var (
	unsafeChars    = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	repeatedScores = regexp.MustCompile(`_+`)
)

// SanitizeFilename 把任意标题压成文件名安全形式：
// 非字母数字统统换成下划线，连续下划线合并，首尾去掉
func SanitizeFilename(s string) string {
	out := unsafeChars.ReplaceAllString(s, "_")
	out = repeatedScores.ReplaceAllString(out, "_")
	return strings.Trim(out, "_")
}

// VideoFileName 导出包里单个机位视频的文件名
func VideoFileName(worldName string, chapterNumber int, chapterTitle string, angle int) string {
	return fmt.Sprintf("%s_%d_%s_%d.mp4",
		SanitizeFilename(worldName), chapterNumber, SanitizeFilename(chapterTitle), angle)
}

// AudioFileName 导出包里章节旁白音频的文件名
func AudioFileName(worldName string, chapterNumber int, chapterTitle string) string {
	return fmt.Sprintf("%s_%d_%s.mp3",
		SanitizeFilename(worldName), chapterNumber, SanitizeFilename(chapterTitle))
}

// ChapterFolder 导出包内的章节目录名
func ChapterFolder(chapterNumber int, chapterTitle string) string {
	return fmt.Sprintf("Chapter_%d_%s", chapterNumber, SanitizeFilename(chapterTitle))
}

// ZipEntry 待打包的一个远端制品
type ZipEntry struct {
	Name string // zip 内路径
	URL  string
}

var zipClient = &http.Client{Timeout: 120 * time.Second}

// WriteZip 把一组远端制品流式写进 zip；单个条目拉取失败跳过并继续，
// 全部失败才报错（部分成功的导出包仍然有用）
func WriteZip(w io.Writer, entries []ZipEntry) (int, error) {
	zw := zip.NewWriter(w)
	written := 0
	var lastErr error

	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		if err := writeZipEntry(zw, e); err != nil {
			lastErr = fmt.Errorf("%s: %w", e.Name, err)
			continue
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return written, err
	}
	if written == 0 && lastErr != nil {
		return 0, fmt.Errorf("没有任何制品可导出: %w", lastErr)
	}
	return written, nil
}

func writeZipEntry(zw *zip.Writer, e ZipEntry) error {
	resp, err := zipClient.Get(e.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	f, err := zw.Create(e.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, resp.Body)
	return err
}
