// internal/feed/sync.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tubewatch/internal/database"
	"tubewatch/internal/youtube"
)

type Syncer struct {
	db     *database.DB
	remote Remote
	logger *log.Logger
}

func NewSyncer(db *database.DB, remote Remote, logger *log.Logger) *Syncer {
	return &Syncer{db: db, remote: remote, logger: logger}
}

// FetchNewVideos pulls the uploads playlist of ch newest first and stores
// every video not seen before. It stops at the first item older than
// opts.After, at the first item already stored, or after opts.MaxCount new
// videos. All inserts share one transaction: on error nothing is stored
// and the count is zero.
func (s *Syncer) FetchNewVideos(ctx context.Context, ch database.Channel, opts FetchOptions) (int, error) {
	playlistID := s.remote.PlaylistID(ch.ID)
	processed := 0

	err := s.db.InTx(ctx, func(tx *database.Tx) error {
		pageToken := ""
		for {
			page, err := s.remote.ListPlaylistItems(ctx, playlistID, pageToken)
			if errors.Is(err, youtube.ErrNoPageInfo) {
				s.logger.Printf("Channel %s: feed returned no page info, nothing more to fetch", ch.Name)
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetching %s: %w", playlistID, err)
			}

			stop, err := s.storePage(ctx, tx, ch, page, opts, &processed)
			if err != nil {
				return err
			}

			if opts.Progress != nil {
				opts.Progress(processed, page.TotalAvailable)
			}
			if stop || page.NextPageToken == "" {
				return nil
			}
			pageToken = page.NextPageToken
		}
	})
	if err != nil {
		return 0, err
	}

	s.logger.Printf("Channel %s: stored %d new videos", ch.Name, processed)
	return processed, nil
}

// storePage inserts the items of one page and reports whether the fetch
// reached a stop condition
func (s *Syncer) storePage(ctx context.Context, tx *database.Tx, ch database.Channel, page *youtube.Page, opts FetchOptions, processed *int) (bool, error) {
	for _, item := range page.Items {
		if !opts.After.IsZero() && item.AddedToPlaylist.Before(opts.After) {
			return true, nil
		}

		known, err := tx.VideoExists(ctx, ch.ID, item.VideoID)
		if err != nil {
			return false, err
		}
		if known {
			return true, nil
		}

		err = tx.InsertVideo(ctx, database.Video{
			ID:              item.VideoID,
			ChannelID:       ch.ID,
			Title:           item.Title,
			Description:     item.Description,
			AddedToPlaylist: item.AddedToPlaylist,
			Published:       item.Published,
		})
		if errors.Is(err, database.ErrAlreadyExists) {
			// Same video id stored under another channel.
			s.logger.Printf("Channel %s: skipping video %s stored for another channel", ch.Name, item.VideoID)
			continue
		}
		if err != nil {
			return false, err
		}

		*processed++
		if opts.MaxCount > 0 && *processed >= opts.MaxCount {
			return true, nil
		}
	}
	return false, nil
}
