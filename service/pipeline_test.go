package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"WorldsDashboard-server/models"
)

type fakeScript struct {
	script string
	err    error
}

func (f *fakeScript) GenerateScript(ctx context.Context, systemPrompt, chapterTitle string, chapterNumber int, worldName string) (string, error) {
	return f.script, f.err
}

type fakeSpeech struct {
	audio []byte
	err   error
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	return f.audio, f.err
}

type fakeRender struct {
	mu        sync.Mutex
	submits   int
	submitErr error
	polls     int
	statuses  []*RenderStatus
	pollErrs  []error
}

func (f *fakeRender) RequestRender(ctx context.Context, imageKey, script, audioURL, title string) (*RenderSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submits++
	return &RenderSubmission{ExternalID: fmt.Sprintf("ext-%d", f.submits), Status: models.VideoStatusProcessing}, nil
}

func (f *fakeRender) PollStatus(ctx context.Context, externalID string) (*RenderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.statuses) == 0 {
		return &RenderStatus{Status: models.VideoStatusProcessing}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return st, nil
}

func (f *fakeRender) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakePublisher struct {
	mu    sync.Mutex
	url   string
	err   error
	calls int
}

func (f *fakePublisher) Publish(ctx context.Context, data []byte, mime string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestPipeline(t *testing.T) (*Pipeline, models.Store) {
	t.Helper()
	store, err := models.NewLocalStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	p := &Pipeline{
		Store:           store,
		Script:          &fakeScript{script: "generated script"},
		Speech:          &fakeSpeech{audio: []byte("mp3")},
		Render:          &fakeRender{},
		Relay:           &fakePublisher{url: "https://relay/audio.mp3"},
		Pollers:         NewPollerRegistry(),
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 100,
	}
	t.Cleanup(p.Shutdown)
	return p, store
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestGenerateChapterScriptPersistsPlaceholder(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	world, _ := store.CreateWorld(&models.World{Name: "Dune", SystemPrompt: "be the narrator"})

	script, video, err := p.GenerateChapterScript(context.Background(), world, 1, "Arrakis")
	if err != nil {
		t.Fatalf("GenerateChapterScript: %v", err)
	}
	if script != "generated script" {
		t.Fatalf("script = %q", script)
	}
	if video == nil || !video.IsPlaceholder() {
		t.Fatalf("expected a placeholder record, got %+v", video)
	}

	stored, err := store.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("placeholder not persisted: %v", err)
	}
	if stored.Script != "generated script" || stored.Angle != 1 {
		t.Fatalf("unexpected stored record: %+v", stored)
	}

	// 同一章节再次生成复用同一条记录
	_, again, err := p.GenerateChapterScript(context.Background(), world, 1, "Arrakis")
	if err != nil {
		t.Fatalf("second GenerateChapterScript: %v", err)
	}
	if again.ID != video.ID {
		t.Fatalf("expected the same record to be reused: %s != %s", again.ID, video.ID)
	}
}

func TestGenerateChapterScriptValidation(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)

	noPrompt, _ := store.CreateWorld(&models.World{Name: "NoPrompt"})
	if _, _, err := p.GenerateChapterScript(context.Background(), noPrompt, 1, "Title"); err == nil {
		t.Fatal("expected error without system prompt")
	}

	world, _ := store.CreateWorld(&models.World{Name: "W", SystemPrompt: "p"})
	if _, _, err := p.GenerateChapterScript(context.Background(), world, 1, "   "); err == nil {
		t.Fatal("expected error for blank title")
	}
}

func TestGenerateChapterAudioDurable(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	world, _ := store.CreateWorld(&models.World{Name: "W", VoiceID: "v1", SystemPrompt: "p"})

	res, err := p.GenerateChapterAudio(context.Background(), world, 1, "Intro", "some script")
	if err != nil {
		t.Fatalf("GenerateChapterAudio: %v", err)
	}
	if !res.Durable || res.AudioURL != "https://relay/audio.mp3" {
		t.Fatalf("expected durable audio, got %+v", res)
	}
	stored, _ := store.GetVideo(res.Video.ID)
	if stored.AudioURL != "https://relay/audio.mp3" {
		t.Fatalf("audio url not persisted: %+v", stored)
	}
}

func TestGenerateChapterAudioUploadFailureKeepsBytes(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	p.Relay = &fakePublisher{err: errors.New("all backends down")}
	world, _ := store.CreateWorld(&models.World{Name: "W", VoiceID: "v1"})

	res, err := p.GenerateChapterAudio(context.Background(), world, 1, "Intro", "some script")
	if err != nil {
		t.Fatalf("audio generation must survive upload failure: %v", err)
	}
	if res.Durable {
		t.Fatal("must not be durable when upload failed")
	}
	if string(res.AudioBytes) != "mp3" {
		t.Fatal("in-memory bytes must be kept for session playback")
	}
	stored, _ := store.GetVideo(res.Video.ID)
	if stored.AudioURL != "" {
		t.Fatalf("non-durable audio must not be persisted as a URL: %+v", stored)
	}
}

func TestGenerateChapterVideosRequiresImage(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	world, _ := store.CreateWorld(&models.World{Name: "W"})
	fr := p.Render.(*fakeRender)

	_, err := p.GenerateChapterVideos(context.Background(), world, ChapterRenderRequest{
		ChapterNumber: 1, ChapterTitle: "Intro", Script: "s", AudioBytes: []byte("mp3"),
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fr.submits != 0 {
		t.Fatal("provider must not be called when no image is configured")
	}
}

func TestGenerateChapterVideosSubmitsConfiguredAngles(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	p.PollInterval = time.Hour // 本用例不关心轮询
	world, _ := store.CreateWorld(&models.World{Name: "W", ImageKey1: "k1", ImageKey2: "k2"})
	pub := p.Relay.(*fakePublisher)

	res, err := p.GenerateChapterVideos(context.Background(), world, ChapterRenderRequest{
		ChapterNumber: 1, ChapterTitle: "Intro", Script: "s", AudioBytes: []byte("mp3"),
	})
	if err != nil {
		t.Fatalf("GenerateChapterVideos: %v", err)
	}
	if len(res.Submitted) != 2 {
		t.Fatalf("expected 2 submissions, got %+v", res)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != 3 {
		t.Fatalf("angle 3 must be skipped: %+v", res.Skipped)
	}
	// 音频只上传一次，机位间共享同一个权威 URL
	if pub.callCount() != 1 {
		t.Fatalf("audio uploaded %d times, want 1", pub.callCount())
	}
	for _, v := range res.Submitted {
		if v.AudioURL != "https://relay/audio.mp3" {
			t.Fatalf("angles must share the canonical audio URL: %+v", v)
		}
		if v.ExternalID == "" || v.Status != models.VideoStatusProcessing {
			t.Fatalf("unexpected submitted record: %+v", v)
		}
		if !p.Pollers.Active(v.ID) {
			t.Fatalf("poller must be running for %s", v.ID)
		}
	}
}

func TestGenerateChapterVideosPromotesPlaceholder(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	p.PollInterval = time.Hour
	world, _ := store.CreateWorld(&models.World{Name: "W", SystemPrompt: "p", ImageKey1: "k1"})

	_, placeholder, err := p.GenerateChapterScript(context.Background(), world, 1, "Intro")
	if err != nil {
		t.Fatalf("GenerateChapterScript: %v", err)
	}

	res, err := p.GenerateChapterVideos(context.Background(), world, ChapterRenderRequest{
		ChapterNumber: 1, ChapterTitle: "Intro", Script: "s", AudioBytes: []byte("mp3"),
	})
	if err != nil {
		t.Fatalf("GenerateChapterVideos: %v", err)
	}
	if len(res.Submitted) != 1 {
		t.Fatalf("expected 1 submission: %+v", res)
	}
	// 占位记录被就地提升，不产生第二条机位 1 记录
	if res.Submitted[0].ID != placeholder.ID {
		t.Fatalf("placeholder must be promoted in place: %s != %s", res.Submitted[0].ID, placeholder.ID)
	}
	videos, _ := store.ListVideosByWorld(world.ID)
	if len(videos) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(videos))
	}
}

func TestPollLoopStopsAtTerminalStatus(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	fr := p.Render.(*fakeRender)
	fr.statuses = []*RenderStatus{
		{Status: models.VideoStatusPending},
		{Status: models.VideoStatusPending},
		{Status: models.VideoStatusPending},
		{Status: models.VideoStatusCompleted, VideoURL: "https://cdn/final.mp4"},
	}

	v, _ := store.CreateVideo(&models.Video{WorldID: "w", ChapterNumber: 1, Angle: 1, ExternalID: "ext-1", Status: models.VideoStatusProcessing})
	if !p.StartPolling(v.ID, v.ExternalID) {
		t.Fatal("StartPolling returned false")
	}

	waitFor(t, func() bool { return p.Pollers.Count() == 0 }, "poller to finish")

	stored, _ := store.GetVideo(v.ID)
	if stored.Status != models.VideoStatusCompleted || stored.VideoURL != "https://cdn/final.mp4" {
		t.Fatalf("final state not persisted: %+v", stored)
	}
	if got := fr.pollCount(); got != 4 {
		t.Fatalf("expected exactly 4 polls (terminal stops the loop), got %d", got)
	}
	// 终止后不再有额外查询
	time.Sleep(20 * time.Millisecond)
	if got := fr.pollCount(); got != 4 {
		t.Fatalf("poller kept polling after terminal status: %d", got)
	}
}

func TestPollLoopForcesFailedAfterCeiling(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	p.MaxPollAttempts = 3
	// statuses 为空 → 永远 processing

	v, _ := store.CreateVideo(&models.Video{WorldID: "w", ChapterNumber: 1, Angle: 1, ExternalID: "ext-1", Status: models.VideoStatusProcessing})
	p.StartPolling(v.ID, v.ExternalID)

	waitFor(t, func() bool { return p.Pollers.Count() == 0 }, "poller to give up")

	stored, _ := store.GetVideo(v.ID)
	if stored.Status != models.VideoStatusFailed {
		t.Fatalf("exhausted poll must force failed, got %q", stored.Status)
	}
	fr := p.Render.(*fakeRender)
	if got := fr.pollCount(); got != 3 {
		t.Fatalf("expected 3 polls, got %d", got)
	}
}

func TestPollLoopSurvivesTransportErrors(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	fr := p.Render.(*fakeRender)
	fr.pollErrs = []error{
		&TransportError{Op: "poll", Err: errors.New("timeout")},
		&TransportError{Op: "poll", Err: errors.New("timeout")},
	}
	fr.statuses = []*RenderStatus{{Status: models.VideoStatusCompleted, VideoURL: "https://cdn/v.mp4"}}

	v, _ := store.CreateVideo(&models.Video{WorldID: "w", ChapterNumber: 1, Angle: 1, ExternalID: "ext-1", Status: models.VideoStatusProcessing})
	p.StartPolling(v.ID, v.ExternalID)

	waitFor(t, func() bool { return p.Pollers.Count() == 0 }, "poller to finish")
	stored, _ := store.GetVideo(v.ID)
	if stored.Status != models.VideoStatusCompleted {
		t.Fatalf("transport errors must not kill the loop, got %q", stored.Status)
	}
}

func TestStartPollingOnePerJob(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	p.PollInterval = time.Hour

	v, _ := store.CreateVideo(&models.Video{WorldID: "w", ChapterNumber: 1, Angle: 1, ExternalID: "ext-1", Status: models.VideoStatusProcessing})
	if !p.StartPolling(v.ID, v.ExternalID) {
		t.Fatal("first StartPolling must succeed")
	}
	if p.StartPolling(v.ID, v.ExternalID) {
		t.Fatal("second StartPolling for the same job must be refused")
	}
	if p.Pollers.Count() != 1 {
		t.Fatalf("expected 1 active poller, got %d", p.Pollers.Count())
	}
}

func TestResumePollingIsIdempotent(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	p.PollInterval = time.Hour

	store.CreateVideo(&models.Video{WorldID: "w", ChapterNumber: 1, Angle: 1, ExternalID: "ext-1", Status: models.VideoStatusProcessing})
	store.CreateVideo(&models.Video{WorldID: "w", ChapterNumber: 1, Angle: 2, ExternalID: "ext-2", Status: models.VideoStatusPending})
	// 不该恢复的：占位记录、已终态记录
	store.CreateVideo(&models.Video{WorldID: "w", ChapterNumber: 2, Angle: 1, Status: models.VideoStatusPending})
	store.CreateVideo(&models.Video{WorldID: "w", ChapterNumber: 3, Angle: 1, ExternalID: "ext-3", Status: models.VideoStatusCompleted})

	if n := p.ResumePolling(); n != 2 {
		t.Fatalf("expected 2 resumed pollers, got %d", n)
	}
	if n := p.ResumePolling(); n != 0 {
		t.Fatalf("second resume must be a no-op, got %d", n)
	}
	if p.Pollers.Count() != 2 {
		t.Fatalf("expected 2 active pollers, got %d", p.Pollers.Count())
	}
}

func TestResolveAudioURLPrefersReachableURL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t)
	pub := p.Relay.(*fakePublisher)

	url, err := p.resolveAudioURL(context.Background(), "w", ChapterRenderRequest{
		ChapterNumber: 1, AudioURL: srv.URL + "/audio.mp3",
	})
	if err != nil {
		t.Fatalf("resolveAudioURL: %v", err)
	}
	if url != srv.URL+"/audio.mp3" {
		t.Fatalf("url = %q", url)
	}
	if pub.callCount() != 0 {
		t.Fatal("reachable URL must not trigger a re-upload")
	}
}

func TestResolveAudioURLReconstitutesDeadURL(t *testing.T) {
	t.Parallel()
	// HEAD 探测失败但 GET 还能取回字节的场景：重新发布
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t)
	pub := p.Relay.(*fakePublisher)

	url, err := p.resolveAudioURL(context.Background(), "w", ChapterRenderRequest{
		ChapterNumber: 1, AudioURL: srv.URL + "/audio.mp3",
	})
	if err != nil {
		t.Fatalf("resolveAudioURL: %v", err)
	}
	if url != "https://relay/audio.mp3" {
		t.Fatalf("expected re-published URL, got %q", url)
	}
	if pub.callCount() != 1 {
		t.Fatalf("expected one re-publish, got %d", pub.callCount())
	}
}

func TestResolveAudioURLRequiresSomeSource(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t)
	_, err := p.resolveAudioURL(context.Background(), "w", ChapterRenderRequest{ChapterNumber: 1})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRefreshStatusPersists(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t)
	fr := p.Render.(*fakeRender)
	fr.statuses = []*RenderStatus{{Status: models.VideoStatusCompleted, VideoURL: "https://cdn/v.mp4"}}

	v, _ := store.CreateVideo(&models.Video{WorldID: "w", ChapterNumber: 1, Angle: 1, ExternalID: "ext-1", Status: models.VideoStatusProcessing})
	st, err := p.RefreshStatus(context.Background(), v.ID, v.ExternalID)
	if err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if st.Status != models.VideoStatusCompleted {
		t.Fatalf("status = %q", st.Status)
	}
	stored, _ := store.GetVideo(v.ID)
	if stored.Status != models.VideoStatusCompleted || stored.VideoURL != "https://cdn/v.mp4" {
		t.Fatalf("refresh must persist: %+v", stored)
	}
}
