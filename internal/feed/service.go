// internal/feed/service.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tubewatch/internal/channel"
	"tubewatch/internal/database"
	"tubewatch/internal/youtube"
)

// LastRefreshKey is the settings key holding the time of the last full refresh
const LastRefreshKey = "last_refresh"

type Service struct {
	db       *database.DB
	logger   *log.Logger
	remote   Remote
	syncer   *Syncer
	notifier Notifier
}

func NewService(db *database.DB, remote Remote, notifier Notifier, logger *log.Logger) *Service {
	return &Service{
		db:       db,
		logger:   logger,
		remote:   remote,
		syncer:   NewSyncer(db, remote, logger),
		notifier: notifier,
	}
}

// Syncer returns the engine used for fetching
func (s *Service) Syncer() *Syncer {
	return s.syncer
}

// AddChannel looks a channel up remotely and stores it
func (s *Service) AddChannel(ctx context.Context, sel youtube.Selector, value string) (*channel.Real, error) {
	identity, err := s.remote.LookupChannel(ctx, sel, value)
	if err != nil {
		return nil, fmt.Errorf("channel lookup failed: %w", err)
	}

	row := database.Channel{ID: identity.ID, Name: identity.Name}
	if err := s.db.InsertChannel(ctx, row); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrChannelExists, identity.Name, identity.ID)
		}
		return nil, err
	}
	s.logger.Printf("Added channel %s (%s)", identity.Name, identity.ID)

	ch := channel.NewReal(row)
	if err := ch.Reload(ctx, s.db); err != nil {
		return nil, err
	}
	return ch, nil
}

// Refresh fetches new videos for a channel and sends one notification
// describing them
func (s *Service) Refresh(ctx context.Context, ch channel.Channel, progress ProgressFunc) (int, error) {
	rc, ok := ch.(*channel.Real)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrVirtualChannel, ch.Name())
	}

	n, err := s.refresh(ctx, rc, progress)
	if err != nil {
		return 0, err
	}

	switch {
	case n == 1:
		latest, err := s.db.LatestVideo(ctx, rc.ID())
		if err != nil {
			return n, err
		}
		s.notifier.ChannelNewVideo(rc, latest.Title)
	case n > 1:
		s.notifier.ChannelNewVideos(rc, n)
	}
	return n, nil
}

// refresh runs an incremental fetch from the newest stored playlist time
// and reloads the channel's counts
func (s *Service) refresh(ctx context.Context, ch *channel.Real, progress ProgressFunc) (int, error) {
	after, err := s.db.LatestAddedToPlaylist(ctx, ch.ID())
	if err != nil {
		return 0, err
	}

	n, err := s.syncer.FetchNewVideos(ctx, ch.Row(), FetchOptions{After: after, Progress: progress})
	if err != nil {
		return 0, fmt.Errorf("refreshing %s: %w", ch.Name(), err)
	}
	if err := ch.Reload(ctx, s.db); err != nil {
		return n, err
	}
	return n, nil
}

// RefreshAll refreshes every real channel in turn. A failing channel does
// not stop the run; the first error is returned once all were tried.
func (s *Service) RefreshAll(ctx context.Context, channels []channel.Channel, progress ProgressFunc) (updated, videos int, err error) {
	runID := uuid.New()
	s.logger.Printf("Refresh run %s: starting for %d channels", runID, len(channels))

	var firstErr error
	for _, ch := range channels {
		rc, ok := ch.(*channel.Real)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			firstErr = ctx.Err()
			break
		}

		n, err := s.refresh(ctx, rc, progress)
		if err != nil {
			s.logger.Printf("Refresh run %s: %v", runID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n > 0 {
			updated++
			videos += n
		}
	}

	if err := s.db.SetSetting(ctx, LastRefreshKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Printf("Refresh run %s: error recording refresh time: %v", runID, err)
	}

	if updated > 0 && videos > 0 {
		s.notifier.ChannelsNewVideos(updated, videos)
	}
	s.logger.Printf("Refresh run %s: %d new videos in %d channels", runID, videos, updated)
	return updated, videos, firstErr
}

// LastRefresh returns the time of the last completed RefreshAll, or the
// zero time if there was none
func (s *Service) LastRefresh(ctx context.Context) (time.Time, error) {
	value, err := s.db.GetSetting(ctx, LastRefreshKey)
	if errors.Is(err, database.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

// Run refreshes all channels now and then every interval until ctx is
// cancelled. channels is called before each run so newly added channels
// are picked up.
func (s *Service) Run(ctx context.Context, channels func() []channel.Channel, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("auto refresh interval must be positive, got %v", interval)
	}
	s.logger.Printf("Starting auto refresh every %v", interval)

	if _, _, err := s.RefreshAll(ctx, channels(), nil); err != nil {
		s.logger.Printf("Initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := s.RefreshAll(ctx, channels(), nil); err != nil {
				s.logger.Printf("Scheduled refresh failed: %v", err)
			}
		case <-ctx.Done():
			s.logger.Printf("Auto refresh shutting down")
			return nil
		}
	}
}
