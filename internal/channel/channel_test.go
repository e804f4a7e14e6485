package channel

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"tubewatch/internal/database"
	"tubewatch/internal/filter"
	"tubewatch/internal/flags"
)

type testEnv struct {
	db     *database.DB
	engine *Engine
	dir    *Directory
	logger *log.Logger
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

// setupTestEnv stores channel "Main" with videos A (2024-01-03, unwatched),
// B (2024-01-02, watched) and C (2024-01-01, unwatched).
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewDB(":memory:", database.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.InsertChannel(ctx, database.Channel{ID: "UCmain", Name: "Main"}); err != nil {
		t.Fatalf("Failed to insert channel: %v", err)
	}
	videos := []database.Video{
		{ID: "A", ChannelID: "UCmain", Title: "A", Published: day(3), AddedToPlaylist: day(3)},
		{ID: "B", ChannelID: "UCmain", Title: "B", Published: day(2), AddedToPlaylist: day(2), Flags: database.FlagWatched},
		{ID: "C", ChannelID: "UCmain", Title: "C", Published: day(1), AddedToPlaylist: day(1)},
	}
	for _, v := range videos {
		if err := db.InsertVideo(ctx, v); err != nil {
			t.Fatalf("Failed to insert video %s: %v", v.ID, err)
		}
	}

	logger := log.New(io.Discard, "", 0)
	engine := NewEngine(db, logger)
	return &testEnv{db: db, engine: engine, dir: NewDirectory(db, engine, logger), logger: logger}
}

func ids(videos []database.Video) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.ID
	}
	return out
}

func sameIDs(got []database.Video, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAllUnwatchedScenario(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if err := env.dir.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	all := AllUnwatched()

	videos, err := env.engine.Videos(ctx, all)
	if err != nil {
		t.Fatalf("Videos() error = %v", err)
	}
	if !sameIDs(videos, "A", "C") {
		t.Fatalf("Expected [A C], got %v", ids(videos))
	}

	main := env.dir.Find("UCmain").(*Real)
	if main.Unwatched() != 2 || main.Videos() != 3 {
		t.Fatalf("Expected 3 videos / 2 unwatched, got %d / %d", main.Videos(), main.Unwatched())
	}

	if err := env.dir.SetWatched(ctx, videos[0], true); err != nil {
		t.Fatalf("SetWatched() error = %v", err)
	}

	videos, err = env.engine.Videos(ctx, all)
	if err != nil {
		t.Fatalf("Videos() error = %v", err)
	}
	if !sameIDs(videos, "C") {
		t.Errorf("Expected [C], got %v", ids(videos))
	}
	if main.Unwatched() != 1 {
		t.Errorf("Expected cached unwatched count 1, got %d", main.Unwatched())
	}
}

func TestMarkAllWatchedVirtual(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if err := env.db.InsertChannel(ctx, database.Channel{ID: "UCother", Name: "Other"}); err != nil {
		t.Fatalf("InsertChannel() error = %v", err)
	}
	if err := env.db.InsertVideo(ctx, database.Video{ID: "O1", ChannelID: "UCother", AddedToPlaylist: day(5)}); err != nil {
		t.Fatalf("InsertVideo() error = %v", err)
	}
	if err := env.dir.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	n, err := env.dir.MarkAllWatched(ctx, AllUnwatched())
	if err != nil {
		t.Fatalf("MarkAllWatched() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 videos marked, got %d", n)
	}
	for _, r := range env.dir.Real() {
		if r.Unwatched() != 0 {
			t.Errorf("Expected %s to have no unwatched videos, got %d", r.Name(), r.Unwatched())
		}
	}
}

func TestMarkAllWatchedReal(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	if err := env.dir.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	main := env.dir.Find("UCmain")
	if _, err := env.dir.MarkAllWatched(ctx, main); err != nil {
		t.Fatalf("MarkAllWatched() error = %v", err)
	}
	if got := main.(*Real).Unwatched(); got != 0 {
		t.Errorf("Expected unwatched 0, got %d", got)
	}
	videos, _ := env.engine.Evaluate(ctx, AllUnwatched().Filter())
	if len(videos) != 0 {
		t.Errorf("Expected no unwatched videos, got %v", ids(videos))
	}
}

func TestDontCareFilterMatchesCorpus(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if err := env.db.InsertChannel(ctx, database.Channel{ID: "UCtagged", Name: "Tagged", UserFlags: 0xffffffff}); err != nil {
		t.Fatalf("InsertChannel() error = %v", err)
	}
	if err := env.db.InsertVideo(ctx, database.Video{ID: "T", ChannelID: "UCtagged", Flags: database.FlagDownloaded, AddedToPlaylist: day(2), Published: day(4)}); err != nil {
		t.Fatalf("InsertVideo() error = %v", err)
	}

	videos, err := env.engine.Evaluate(ctx, database.ChannelFilter{Name: "Everything"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !sameIDs(videos, "T", "A", "B", "C") {
		t.Errorf("Expected full corpus newest first, got %v", ids(videos))
	}
}

func TestEvaluateUserFlags(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	registry := flags.NewRegistry(env.db, env.logger)
	music, err := registry.Allocate(ctx, "music")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if err := env.db.InsertChannel(ctx, database.Channel{ID: "UCmusic", Name: "Music", UserFlags: music.ID}); err != nil {
		t.Fatalf("InsertChannel() error = %v", err)
	}
	if err := env.db.InsertVideo(ctx, database.Video{ID: "M", ChannelID: "UCmusic", AddedToPlaylist: day(1)}); err != nil {
		t.Fatalf("InsertVideo() error = %v", err)
	}

	v, err := env.engine.CreateFilter(ctx, "Music only")
	if err != nil {
		t.Fatalf("CreateFilter() error = %v", err)
	}
	if err := env.engine.ToggleFilterUserBit(ctx, v, music.ID); err != nil {
		t.Fatalf("ToggleFilterUserBit() error = %v", err)
	}
	videos, _ := env.engine.Videos(ctx, v)
	if !sameIDs(videos, "M") {
		t.Errorf("Expected [M] for must-be-set, got %v", ids(videos))
	}

	if err := env.engine.ToggleFilterUserBit(ctx, v, music.ID); err != nil {
		t.Fatalf("ToggleFilterUserBit() error = %v", err)
	}
	videos, _ = env.engine.Videos(ctx, v)
	if !sameIDs(videos, "A", "B", "C") {
		t.Errorf("Expected [A B C] for must-be-clear, got %v", ids(videos))
	}

	stored, err := env.db.GetFilter(ctx, v.Filter().ID)
	if err != nil {
		t.Fatalf("GetFilter() error = %v", err)
	}
	if stored.User != (filter.Mask{Mask: music.ID}) {
		t.Errorf("Expected stored must-be-clear mask, got %+v", stored.User)
	}

	if err := env.engine.ToggleFilterUserBit(ctx, v, 1<<7); !errors.Is(err, flags.ErrUnknownFlag) {
		t.Errorf("Expected ErrUnknownFlag, got %v", err)
	}
}

func TestToggleFilterVideoBit(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	v, err := env.engine.CreateFilter(ctx, "Watched")
	if err != nil {
		t.Fatalf("CreateFilter() error = %v", err)
	}
	if err := env.engine.ToggleFilterVideoBit(ctx, v, database.FlagWatched); err != nil {
		t.Fatalf("ToggleFilterVideoBit() error = %v", err)
	}
	videos, _ := env.engine.Videos(ctx, v)
	if !sameIDs(videos, "B") {
		t.Errorf("Expected [B], got %v", ids(videos))
	}

	for i := 0; i < 2; i++ {
		if err := env.engine.ToggleFilterVideoBit(ctx, v, database.FlagWatched); err != nil {
			t.Fatalf("ToggleFilterVideoBit() error = %v", err)
		}
	}
	if !v.Filter().Video.IsZero() {
		t.Errorf("Expected three toggles to restore don't-care, got %+v", v.Filter().Video)
	}
	if err := env.engine.ToggleFilterVideoBit(ctx, v, 1<<5); !errors.Is(err, ErrUnknownFlag) {
		t.Errorf("Expected ErrUnknownFlag, got %v", err)
	}

	if err := env.engine.RenameFilter(ctx, v, "Renamed"); err != nil {
		t.Fatalf("RenameFilter() error = %v", err)
	}
	stored, _ := env.db.GetFilter(ctx, v.Filter().ID)
	if stored.Name != "Renamed" {
		t.Errorf("Expected stored name 'Renamed', got %q", stored.Name)
	}
}

func TestVirtualIDs(t *testing.T) {
	if id := AllUnwatched().ID(); id != "virtual:all-unwatched" {
		t.Errorf("Expected virtual:all-unwatched, got %s", id)
	}
	if id := NewVirtual(database.ChannelFilter{ID: 7, Name: "x"}).ID(); id != "virtual:7" {
		t.Errorf("Expected virtual:7, got %s", id)
	}
	if !AllUnwatched().Filter().Transient() {
		t.Errorf("Expected All Unwatched to be transient")
	}
}
