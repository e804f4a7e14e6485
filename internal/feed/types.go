// internal/feed/types.go
package feed

import (
	"context"
	"errors"
	"time"

	"tubewatch/internal/youtube"
)

var (
	ErrChannelExists  = errors.New("channel already exists")
	ErrVirtualChannel = errors.New("virtual channels cannot be refreshed")
)

// Remote is the paginated, newest-first feed videos are pulled from
type Remote interface {
	LookupChannel(ctx context.Context, sel youtube.Selector, value string) (youtube.ChannelIdentity, error)
	ListPlaylistItems(ctx context.Context, playlistID, pageToken string) (*youtube.Page, error)
	PlaylistID(channelID string) string
}

// ProgressFunc receives the number of new videos so far and the number the
// feed says are available. It is called synchronously after every page.
type ProgressFunc func(processed, total int)

// FetchOptions bound a fetch. Zero values leave a bound unset.
type FetchOptions struct {
	// After stops the fetch at the first item added to the playlist before it.
	After    time.Time
	MaxCount int
	Progress ProgressFunc
}
