package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"tubewatch/internal/database"
	"tubewatch/internal/flags"
)

var (
	ErrNotSaved     = errors.New("filter has not been saved")
	ErrUnknownFlag  = errors.New("unknown video flag")
	ErrUnknownKind  = errors.New("unknown channel kind")
	ErrNameRequired = errors.New("filter name is required")
)

// Engine evaluates channels into video lists and edits saved filters
type Engine struct {
	db     *database.DB
	logger *log.Logger
}

func NewEngine(db *database.DB, logger *log.Logger) *Engine {
	return &Engine{db: db, logger: logger}
}

// Videos returns the videos of ch, newest first
func (e *Engine) Videos(ctx context.Context, ch Channel) ([]database.Video, error) {
	switch c := ch.(type) {
	case *Real:
		return e.db.VideosForChannel(ctx, c.ID())
	case *Virtual:
		return e.Evaluate(ctx, c.Filter())
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, ch)
	}
}

// Evaluate returns every stored video matching f across all channels
func (e *Engine) Evaluate(ctx context.Context, f database.ChannelFilter) ([]database.Video, error) {
	return e.db.VideosMatching(ctx, f.Video, f.User)
}

// CreateFilter saves a new filter that matches everything
func (e *Engine) CreateFilter(ctx context.Context, name string) (*Virtual, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	f, err := e.db.InsertFilter(ctx, name)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("Created filter %q with id %d", f.Name, f.ID)
	return NewVirtual(f), nil
}

// RenameFilter renames a saved filter
func (e *Engine) RenameFilter(ctx context.Context, v *Virtual, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	f := v.filter
	f.Name = name
	if err := e.save(ctx, f); err != nil {
		return err
	}
	v.filter = f
	return nil
}

// ToggleFilterVideoBit cycles the requirement on a built-in video flag
func (e *Engine) ToggleFilterVideoBit(ctx context.Context, v *Virtual, flag database.VideoFlag) error {
	if flag != database.FlagWatched && flag != database.FlagDownloaded {
		return fmt.Errorf("%w: %d", ErrUnknownFlag, flag)
	}
	f := v.filter
	f.Video = f.Video.Toggle(uint32(flag))
	if err := e.save(ctx, f); err != nil {
		return err
	}
	v.filter = f
	return nil
}

// ToggleFilterUserBit cycles the requirement on a user flag
func (e *Engine) ToggleFilterUserBit(ctx context.Context, v *Virtual, id uint32) error {
	userFlags, err := e.db.ListUserFlags(ctx)
	if err != nil {
		return err
	}
	known := false
	for _, uf := range userFlags {
		if uf.ID == id {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: %d", flags.ErrUnknownFlag, id)
	}

	f := v.filter
	f.User = f.User.Toggle(id)
	if err := e.save(ctx, f); err != nil {
		return err
	}
	v.filter = f
	return nil
}

// save persists f. Transient filters only change in memory.
func (e *Engine) save(ctx context.Context, f database.ChannelFilter) error {
	if f.Transient() {
		return nil
	}
	if err := e.db.SaveFilter(ctx, f); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrNotSaved, f.ID)
		}
		return err
	}
	return nil
}

// SetWatched sets or clears the watched flag of a single video
func (e *Engine) SetWatched(ctx context.Context, v database.Video, watched bool) error {
	return e.db.SetVideoFlag(ctx, v.ID, database.FlagWatched, watched)
}

// SetDownloaded sets or clears the downloaded flag of a single video
func (e *Engine) SetDownloaded(ctx context.Context, v database.Video, downloaded bool) error {
	return e.db.SetVideoFlag(ctx, v.ID, database.FlagDownloaded, downloaded)
}
