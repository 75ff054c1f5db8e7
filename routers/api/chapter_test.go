package api

import (
	"testing"

	"WorldsDashboard-server/models"
)

func TestChapterZipEntriesSplitsDuplicateNumbers(t *testing.T) {
	t.Parallel()
	// 同一章节号、两个不同标题：导出必须各占一个目录
	videos := []models.Video{
		{ID: "a1", ChapterNumber: 3, ChapterTitle: "Alpha", Angle: 1, ExternalID: "e1",
			Status: models.VideoStatusCompleted, VideoURL: "https://cdn/a1.mp4", AudioURL: "https://cdn/a.mp3"},
		{ID: "b1", ChapterNumber: 3, ChapterTitle: "Beta", Angle: 1, ExternalID: "e2",
			Status: models.VideoStatusCompleted, VideoURL: "https://cdn/b1.mp4", AudioURL: "https://cdn/b.mp3"},
	}

	entries := chapterZipEntries("My Book", 3, models.GroupChapters(videos))
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries (2 videos + 2 audios), got %d: %+v", len(entries), entries)
	}

	names := make(map[string]string, len(entries))
	for _, e := range entries {
		names[e.Name] = e.URL
	}
	want := map[string]string{
		"Chapter_3_Alpha/My_Book_3_Alpha_1.mp4": "https://cdn/a1.mp4",
		"Chapter_3_Alpha/My_Book_3_Alpha.mp3":   "https://cdn/a.mp3",
		"Chapter_3_Beta/My_Book_3_Beta_1.mp4":   "https://cdn/b1.mp4",
		"Chapter_3_Beta/My_Book_3_Beta.mp3":     "https://cdn/b.mp3",
	}
	for name, url := range want {
		if names[name] != url {
			t.Fatalf("missing or wrong entry %q: got %q, all: %v", name, names[name], names)
		}
	}
}

func TestChapterZipEntriesSkipsPlaceholdersAndOtherChapters(t *testing.T) {
	t.Parallel()
	videos := []models.Video{
		// 目标章节，已完成
		{ID: "v1", ChapterNumber: 1, ChapterTitle: "Intro", Angle: 1, ExternalID: "e1",
			Status: models.VideoStatusCompleted, VideoURL: "https://cdn/v1.mp4", AudioURL: "https://cdn/a.mp3"},
		// 同章节另一机位，还没有视频地址
		{ID: "v2", ChapterNumber: 1, ChapterTitle: "Intro", Angle: 2, ExternalID: "e2",
			Status: models.VideoStatusProcessing},
		// 占位记录（脚本/音频已存但从未提交渲染）
		{ID: "p1", ChapterNumber: 2, ChapterTitle: "Draft", Angle: 1,
			Status: models.VideoStatusPending, AudioURL: "https://cdn/draft.mp3"},
		// 别的章节
		{ID: "o1", ChapterNumber: 5, ChapterTitle: "Other", Angle: 1, ExternalID: "e3",
			Status: models.VideoStatusCompleted, VideoURL: "https://cdn/o1.mp4"},
	}

	entries := chapterZipEntries("My Book", 1, models.GroupChapters(videos))
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	for _, e := range entries {
		if e.URL == "https://cdn/draft.mp3" || e.URL == "https://cdn/o1.mp4" {
			t.Fatalf("entry from wrong chapter leaked in: %+v", e)
		}
	}

	if got := chapterZipEntries("My Book", 2, models.GroupChapters(videos)); len(got) != 0 {
		t.Fatalf("placeholder-only chapter must export nothing, got %+v", got)
	}
}
