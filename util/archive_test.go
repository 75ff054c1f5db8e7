package util

import (
	"archive/zip"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
	}{
		{"Hello World", "Hello_World"},
		{"The Fellowship of the Ring!", "The_Fellowship_of_the_Ring"},
		{"  --weird__  name--  ", "weird_name"},
		{"already_safe_123", "already_safe_123"},
		{"///", ""},
		{"Ch. 1: Beginnings (part 2)", "Ch_1_Beginnings_part_2"},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExportFileNames(t *testing.T) {
	t.Parallel()
	if got := VideoFileName("My Book", 3, "The End?", 2); got != "My_Book_3_The_End_2.mp4" {
		t.Fatalf("VideoFileName = %q", got)
	}
	if got := AudioFileName("My Book", 3, "The End?"); got != "My_Book_3_The_End.mp3" {
		t.Fatalf("AudioFileName = %q", got)
	}
	if got := ChapterFolder(3, "The End?"); got != "Chapter_3_The_End" {
		t.Fatalf("ChapterFolder = %q", got)
	}
}

func TestWriteZip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.mp4":
			w.Write([]byte("video-a"))
		case "/b.mp3":
			w.Write([]byte("audio-b"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var buf bytes.Buffer
	written, err := WriteZip(&buf, []ZipEntry{
		{Name: "Chapter_1_Intro/video.mp4", URL: srv.URL + "/a.mp4"},
		{Name: "Chapter_1_Intro/audio.mp3", URL: srv.URL + "/b.mp3"},
		{Name: "Chapter_1_Intro/missing.mp4", URL: srv.URL + "/gone.mp4"}, // 拉取失败要跳过
		{Name: "Chapter_1_Intro/empty.mp4", URL: ""},
	})
	if err != nil {
		t.Fatalf("WriteZip: %v", err)
	}
	if written != 2 {
		t.Fatalf("written = %d, want 2", written)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(zr.File))
	}
	contents := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		contents[f.Name] = string(b)
	}
	if contents["Chapter_1_Intro/video.mp4"] != "video-a" || contents["Chapter_1_Intro/audio.mp3"] != "audio-b" {
		t.Fatalf("unexpected contents: %v", contents)
	}
}

func TestWriteZipAllFailures(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var buf bytes.Buffer
	if _, err := WriteZip(&buf, []ZipEntry{{Name: "x.mp4", URL: srv.URL + "/x.mp4"}}); err == nil {
		t.Fatal("expected error when nothing could be exported")
	}
}
