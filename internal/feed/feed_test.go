// internal/feed/feed_test.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tubewatch/internal/channel"
	"tubewatch/internal/database"
	"tubewatch/internal/youtube"
)

// fakeRemote serves pages of a playlist from memory. Page i is requested
// with token "p<i>".
type fakeRemote struct {
	pages    [][]youtube.Item
	total    int
	failAt   int // page index that fails, -1 for none
	noInfo   bool
	requests int
	channels map[string]youtube.ChannelIdentity
}

func newFakeRemote(pages ...[]youtube.Item) *fakeRemote {
	total := 0
	for _, p := range pages {
		total += len(p)
	}
	return &fakeRemote{pages: pages, total: total, failAt: -1, channels: map[string]youtube.ChannelIdentity{}}
}

func (f *fakeRemote) PlaylistID(channelID string) string {
	return youtube.UploadsPlaylistID(channelID)
}

func (f *fakeRemote) LookupChannel(ctx context.Context, sel youtube.Selector, value string) (youtube.ChannelIdentity, error) {
	id, ok := f.channels[string(sel)+":"+value]
	if !ok {
		return youtube.ChannelIdentity{}, youtube.ErrChannelNotFound
	}
	return id, nil
}

func (f *fakeRemote) ListPlaylistItems(ctx context.Context, playlistID, pageToken string) (*youtube.Page, error) {
	f.requests++
	if f.noInfo {
		return nil, youtube.ErrNoPageInfo
	}
	idx := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "p%d", &idx)
	}
	if idx == f.failAt {
		return nil, &youtube.TransportError{Op: "list playlist items", StatusCode: http.StatusInternalServerError, Err: errors.New("boom")}
	}
	if idx >= len(f.pages) {
		return &youtube.Page{TotalAvailable: f.total}, nil
	}
	page := &youtube.Page{Items: f.pages[idx], TotalAvailable: f.total}
	if idx+1 < len(f.pages) {
		page.NextPageToken = fmt.Sprintf("p%d", idx+1)
	}
	return page, nil
}

// makeItems returns n items newest first, starting at newest and one
// minute apart
func makeItems(prefix string, n int, newest time.Time) []youtube.Item {
	items := make([]youtube.Item, n)
	for i := range items {
		ts := newest.Add(-time.Duration(i) * time.Minute)
		items[i] = youtube.Item{
			VideoID:         fmt.Sprintf("%s%03d", prefix, i),
			Title:           fmt.Sprintf("%s video %d", prefix, i),
			AddedToPlaylist: ts,
			Published:       ts,
		}
	}
	return items
}

type testEnv struct {
	db     *database.DB
	logger *log.Logger
	ch     database.Channel
}

func setupTestDB(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewDB(":memory:", database.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ch := database.Channel{ID: "UCsync", Name: "Sync"}
	if err := db.InsertChannel(context.Background(), ch); err != nil {
		t.Fatalf("Failed to insert channel: %v", err)
	}
	return &testEnv{db: db, logger: log.New(io.Discard, "", 0), ch: ch}
}

func (env *testEnv) count(t *testing.T) int {
	t.Helper()
	stats, err := env.db.GetChannelStats(context.Background(), env.ch.ID)
	if err != nil {
		t.Fatalf("GetChannelStats() error = %v", err)
	}
	return stats.Videos
}

type progressCall struct{ processed, total int }

func TestFetchNewVideos_ThreePages(t *testing.T) {
	env := setupTestDB(t)
	newest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	all := makeItems("v", 150, newest)
	remote := newFakeRemote(all[:50], all[50:100], all[100:])
	syncer := NewSyncer(env.db, remote, env.logger)

	var calls []progressCall
	n, err := syncer.FetchNewVideos(context.Background(), env.ch, FetchOptions{
		Progress: func(processed, total int) { calls = append(calls, progressCall{processed, total}) },
	})
	if err != nil {
		t.Fatalf("FetchNewVideos() error = %v", err)
	}
	if n != 150 {
		t.Errorf("Expected 150 new videos, got %d", n)
	}
	if got := env.count(t); got != 150 {
		t.Errorf("Expected 150 stored videos, got %d", got)
	}

	want := []progressCall{{50, 150}, {100, 150}, {150, 150}}
	if len(calls) != len(want) {
		t.Fatalf("Expected progress %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Progress call %d: expected %v, got %v", i, want[i], calls[i])
		}
	}
}

func TestFetchNewVideos_Cursor(t *testing.T) {
	env := setupTestDB(t)
	items := []youtube.Item{
		{VideoID: "jan3", AddedToPlaylist: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
		{VideoID: "jan2", AddedToPlaylist: time.Date(2024, 1, 2, 2, 30, 0, 0, time.UTC)},
		{VideoID: "jan1", AddedToPlaylist: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	syncer := NewSyncer(env.db, newFakeRemote(items), env.logger)

	n, err := syncer.FetchNewVideos(context.Background(), env.ch, FetchOptions{
		After: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("FetchNewVideos() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 new videos, got %d", n)
	}
	if _, err := env.db.GetVideo(context.Background(), "jan1"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected jan1 not to be stored, got %v", err)
	}
}

func TestFetchNewVideos_Dedup(t *testing.T) {
	env := setupTestDB(t)
	ctx := context.Background()
	newest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	remote := newFakeRemote(makeItems("v", 10, newest))
	syncer := NewSyncer(env.db, remote, env.logger)

	if n, err := syncer.FetchNewVideos(ctx, env.ch, FetchOptions{}); err != nil || n != 10 {
		t.Fatalf("First fetch: expected 10, got %d (%v)", n, err)
	}

	// Same cursor twice and no cursor at all: nothing new either way.
	cursor := newest.Add(-time.Hour)
	for i := 0; i < 2; i++ {
		n, err := syncer.FetchNewVideos(ctx, env.ch, FetchOptions{After: cursor})
		if err != nil || n != 0 {
			t.Errorf("Repeated fetch %d: expected 0, got %d (%v)", i, n, err)
		}
	}
	if n, err := syncer.FetchNewVideos(ctx, env.ch, FetchOptions{}); err != nil || n != 0 {
		t.Errorf("Fetch without cursor: expected 0, got %d (%v)", n, err)
	}
	if got := env.count(t); got != 10 {
		t.Errorf("Expected 10 stored videos, got %d", got)
	}

	// Two new uploads on top of the known ones.
	remote.pages[0] = append(makeItems("new", 2, newest.Add(time.Hour)), remote.pages[0]...)
	n, err := syncer.FetchNewVideos(ctx, env.ch, FetchOptions{})
	if err != nil || n != 2 {
		t.Errorf("Incremental fetch: expected 2, got %d (%v)", n, err)
	}
}

func TestFetchNewVideos_MaxCount(t *testing.T) {
	env := setupTestDB(t)
	newest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	all := makeItems("v", 100, newest)
	remote := newFakeRemote(all[:50], all[50:])
	syncer := NewSyncer(env.db, remote, env.logger)

	var last progressCall
	n, err := syncer.FetchNewVideos(context.Background(), env.ch, FetchOptions{
		MaxCount: 7,
		Progress: func(processed, total int) { last = progressCall{processed, total} },
	})
	if err != nil {
		t.Fatalf("FetchNewVideos() error = %v", err)
	}
	if n != 7 || env.count(t) != 7 {
		t.Errorf("Expected 7 new and stored videos, got %d and %d", n, env.count(t))
	}
	if remote.requests != 1 {
		t.Errorf("Expected a single page request, got %d", remote.requests)
	}
	if last != (progressCall{7, 100}) {
		t.Errorf("Expected final progress 7/100, got %v", last)
	}
}

func TestFetchNewVideos_ErrorRollsBack(t *testing.T) {
	env := setupTestDB(t)
	newest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	all := makeItems("v", 100, newest)
	remote := newFakeRemote(all[:50], all[50:])
	remote.failAt = 1
	syncer := NewSyncer(env.db, remote, env.logger)

	n, err := syncer.FetchNewVideos(context.Background(), env.ch, FetchOptions{})
	var te *youtube.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected count 0 on error, got %d", n)
	}
	if got := env.count(t); got != 0 {
		t.Errorf("Expected nothing committed, got %d videos", got)
	}
}

func TestFetchNewVideos_NoPageInfo(t *testing.T) {
	env := setupTestDB(t)
	remote := newFakeRemote()
	remote.noInfo = true
	syncer := NewSyncer(env.db, remote, env.logger)

	called := false
	n, err := syncer.FetchNewVideos(context.Background(), env.ch, FetchOptions{
		Progress: func(int, int) { called = true },
	})
	if err != nil {
		t.Fatalf("Expected no error for a response without page info, got %v", err)
	}
	if n != 0 || called {
		t.Errorf("Expected 0 videos and no progress, got %d (progress called: %v)", n, called)
	}
}

type recordingNotifier struct {
	single   []string
	multiple []int
	all      [][2]int
}

func (r *recordingNotifier) ChannelNewVideo(ch channel.Channel, title string) {
	r.single = append(r.single, ch.Name()+": "+title)
}

func (r *recordingNotifier) ChannelNewVideos(ch channel.Channel, count int) {
	r.multiple = append(r.multiple, count)
}

func (r *recordingNotifier) ChannelsNewVideos(channels, videos int) {
	r.all = append(r.all, [2]int{channels, videos})
}

func TestServiceRefreshNotifications(t *testing.T) {
	env := setupTestDB(t)
	ctx := context.Background()
	newest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	remote := newFakeRemote(makeItems("v", 3, newest))
	notifier := &recordingNotifier{}
	svc := NewService(env.db, remote, notifier, env.logger)
	ch := channel.NewReal(env.ch)

	n, err := svc.Refresh(ctx, ch, nil)
	if err != nil || n != 3 {
		t.Fatalf("Refresh() = %d, %v; expected 3", n, err)
	}
	if len(notifier.multiple) != 1 || notifier.multiple[0] != 3 {
		t.Errorf("Expected one multi-video notification for 3, got %v", notifier.multiple)
	}
	if ch.Videos() != 3 || ch.Unwatched() != 3 {
		t.Errorf("Expected counts to be reloaded, got %d/%d", ch.Videos(), ch.Unwatched())
	}

	if n, err := svc.Refresh(ctx, ch, nil); err != nil || n != 0 {
		t.Fatalf("Second Refresh() = %d, %v; expected 0", n, err)
	}

	remote.pages[0] = append(makeItems("fresh", 1, newest.Add(time.Hour)), remote.pages[0]...)
	if n, err := svc.Refresh(ctx, ch, nil); err != nil || n != 1 {
		t.Fatalf("Third Refresh() = %d, %v; expected 1", n, err)
	}
	if len(notifier.single) != 1 || notifier.single[0] != "Sync: fresh video 0" {
		t.Errorf("Expected one single-video notification, got %v", notifier.single)
	}
	if len(notifier.multiple) != 1 {
		t.Errorf("Expected no extra multi-video notifications, got %v", notifier.multiple)
	}

	if _, err := svc.Refresh(ctx, channel.AllUnwatched(), nil); !errors.Is(err, ErrVirtualChannel) {
		t.Errorf("Expected ErrVirtualChannel, got %v", err)
	}
}

func TestServiceRefreshAll(t *testing.T) {
	env := setupTestDB(t)
	ctx := context.Background()
	newest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	other := database.Channel{ID: "UCother", Name: "Other"}
	if err := env.db.InsertChannel(ctx, other); err != nil {
		t.Fatalf("InsertChannel() error = %v", err)
	}

	remote := newFakeRemote(makeItems("v", 4, newest))
	notifier := &recordingNotifier{}
	svc := NewService(env.db, remote, notifier, env.logger)

	// Both channels read the same fake playlist; the second one finds the
	// video ids taken and stores nothing.
	channels := []channel.Channel{channel.AllUnwatched(), channel.NewReal(env.ch), channel.NewReal(other)}
	updated, videos, err := svc.RefreshAll(ctx, channels, nil)
	if err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	if updated != 1 || videos != 4 {
		t.Errorf("Expected 1 channel with 4 videos, got %d with %d", updated, videos)
	}
	if len(notifier.all) != 1 || notifier.all[0] != [2]int{1, 4} {
		t.Errorf("Expected one aggregate notification, got %v", notifier.all)
	}

	last, err := svc.LastRefresh(ctx)
	if err != nil || last.IsZero() {
		t.Errorf("Expected last refresh to be recorded, got %v (%v)", last, err)
	}

	if _, _, err := svc.RefreshAll(ctx, channels, nil); err != nil {
		t.Fatalf("Second RefreshAll() error = %v", err)
	}
	if len(notifier.all) != 1 {
		t.Errorf("Expected no aggregate notification without new videos, got %v", notifier.all)
	}
}

func TestServiceRefreshAllContinuesAfterError(t *testing.T) {
	env := setupTestDB(t)
	remote := newFakeRemote(makeItems("v", 2, time.Now()))
	remote.failAt = 0
	svc := NewService(env.db, remote, &recordingNotifier{}, env.logger)

	_, _, err := svc.RefreshAll(context.Background(), []channel.Channel{channel.NewReal(env.ch)}, nil)
	var te *youtube.TransportError
	if !errors.As(err, &te) {
		t.Errorf("Expected the channel error to be returned, got %v", err)
	}
}

func TestServiceAddChannel(t *testing.T) {
	env := setupTestDB(t)
	ctx := context.Background()

	remote := newFakeRemote()
	remote.channels["forUsername:someone"] = youtube.ChannelIdentity{ID: "UCsomeone", Name: "Someone"}
	remote.channels["id:UCsync"] = youtube.ChannelIdentity{ID: "UCsync", Name: "Sync"}
	svc := NewService(env.db, remote, &recordingNotifier{}, env.logger)

	ch, err := svc.AddChannel(ctx, youtube.SelectorUsername, "someone")
	if err != nil {
		t.Fatalf("AddChannel() error = %v", err)
	}
	if ch.ID() != "UCsomeone" || ch.Name() != "Someone" {
		t.Errorf("Unexpected channel %s (%s)", ch.Name(), ch.ID())
	}
	if _, err := env.db.GetChannel(ctx, "UCsomeone"); err != nil {
		t.Errorf("Expected channel to be stored, got %v", err)
	}

	if _, err := svc.AddChannel(ctx, youtube.SelectorID, "UCsync"); !errors.Is(err, ErrChannelExists) {
		t.Errorf("Expected ErrChannelExists, got %v", err)
	}
	if _, err := svc.AddChannel(ctx, youtube.SelectorHandle, "@nobody"); !errors.Is(err, youtube.ErrChannelNotFound) {
		t.Errorf("Expected ErrChannelNotFound, got %v", err)
	}
}

func TestServiceRun(t *testing.T) {
	env := setupTestDB(t)
	remote := newFakeRemote(makeItems("v", 2, time.Now()))
	svc := NewService(env.db, remote, &recordingNotifier{}, env.logger)

	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	channels := func() []channel.Channel {
		runs++
		if runs == 2 {
			cancel()
		}
		return []channel.Channel{channel.NewReal(env.ch)}
	}

	if err := svc.Run(ctx, channels, 10*time.Millisecond); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if runs < 2 {
		t.Errorf("Expected at least two refresh runs, got %d", runs)
	}
	if err := svc.Run(context.Background(), channels, 0); err == nil {
		t.Errorf("Expected an error for a non-positive interval")
	}
}

func TestSyncWithRSSClient(t *testing.T) {
	env := setupTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
 <title>Sync</title>
 <entry><id>yt:video:r2</id><yt:videoId>r2</yt:videoId><title>Two</title><published>2024-05-02T00:00:00+00:00</published></entry>
 <entry><id>yt:video:r1</id><yt:videoId>r1</yt:videoId><title>One</title><published>2024-05-01T00:00:00+00:00</published></entry>
</feed>`)
	}))
	defer srv.Close()

	remote := youtube.NewRSSClient(srv.Client(), srv.URL)
	syncer := NewSyncer(env.db, remote, env.logger)

	n, err := syncer.FetchNewVideos(context.Background(), env.ch, FetchOptions{})
	if err != nil {
		t.Fatalf("FetchNewVideos() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 videos from the feed, got %d", n)
	}
}
