package channel

import (
	"context"

	"tubewatch/internal/database"
)

// Session holds what the user is looking at: the selected channel, its
// loaded videos and the selected video
type Session struct {
	Directory *Directory
	engine    *Engine
	videos    []database.Video
	index     int
}

func NewSession(dir *Directory, engine *Engine) *Session {
	return &Session{Directory: dir, engine: engine}
}

// Channel returns the selected channel
func (s *Session) Channel() Channel {
	return s.Directory.Selected()
}

// Select selects a channel by id and loads its videos
func (s *Session) Select(ctx context.Context, id string) error {
	if err := s.Directory.SelectByID(id); err != nil {
		return err
	}
	s.index = 0
	s.videos = nil
	return s.Reload(ctx)
}

// Reload re-reads the videos of the selected channel. The selected video
// stays selected while it is still listed.
func (s *Session) Reload(ctx context.Context) error {
	ch := s.Channel()
	if ch == nil {
		return ErrNoSelection
	}

	var current string
	if v, ok := s.Video(); ok {
		current = v.ID
	}

	videos, err := s.engine.Videos(ctx, ch)
	if err != nil {
		return err
	}
	s.videos = videos

	idx := -1
	for i, v := range videos {
		if current != "" && v.ID == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = min(s.index, max(len(videos)-1, 0))
	}
	s.index = idx
	return nil
}

// Videos returns the loaded videos
func (s *Session) Videos() []database.Video {
	return s.videos
}

// Video returns the selected video
func (s *Session) Video() (database.Video, bool) {
	if s.index < 0 || s.index >= len(s.videos) {
		return database.Video{}, false
	}
	return s.videos[s.index], true
}

// Index returns the position of the selected video
func (s *Session) Index() int {
	return s.index
}

// Next moves the selection to the next video
func (s *Session) Next() bool {
	if s.index+1 >= len(s.videos) {
		return false
	}
	s.index++
	return true
}

// Prev moves the selection to the previous video
func (s *Session) Prev() bool {
	if s.index == 0 {
		return false
	}
	s.index--
	return true
}

// SetWatched changes the watched flag of the selected video and reloads
func (s *Session) SetWatched(ctx context.Context, watched bool) error {
	v, ok := s.Video()
	if !ok {
		return ErrNoSelection
	}
	if err := s.Directory.SetWatched(ctx, v, watched); err != nil {
		return err
	}
	return s.Reload(ctx)
}

// MarkAllWatched marks every video of the selected channel watched
func (s *Session) MarkAllWatched(ctx context.Context) (int, error) {
	ch := s.Channel()
	if ch == nil {
		return 0, ErrNoSelection
	}
	n, err := s.Directory.MarkAllWatched(ctx, ch)
	if err != nil {
		return n, err
	}
	return n, s.Reload(ctx)
}
