// Package channel models the channel list: stored channels and virtual
// channels computed from saved filters.
package channel

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"tubewatch/internal/database"
	"tubewatch/internal/filter"
)

// AllUnwatchedID is the filter id of the built-in All Unwatched view
const AllUnwatchedID = -1

// Channel is either a *Real or a *Virtual channel
type Channel interface {
	ID() string
	Name() string
	IsVirtual() bool
}

type statsReader interface {
	GetChannel(ctx context.Context, id string) (database.Channel, error)
	GetChannelStats(ctx context.Context, id string) (database.ChannelStats, error)
}

// Real is a stored channel with cached video counts
type Real struct {
	row   database.Channel
	stats database.ChannelStats
}

func NewReal(row database.Channel) *Real {
	return &Real{row: row}
}

func (c *Real) ID() string      { return c.row.ID }
func (c *Real) Name() string    { return c.row.Name }
func (c *Real) IsVirtual() bool { return false }

// Row returns the stored channel row
func (c *Real) Row() database.Channel { return c.row }

func (c *Real) UserFlags() uint32 { return c.row.UserFlags }

// Videos is the cached number of stored videos
func (c *Real) Videos() int { return c.stats.Videos }

// Unwatched is the cached number of videos without the watched flag
func (c *Real) Unwatched() int { return c.stats.Unwatched }

// Reload recomputes the cached counts and user flags from the store. The
// counts are never adjusted in place.
func (c *Real) Reload(ctx context.Context, db statsReader) error {
	row, err := db.GetChannel(ctx, c.row.ID)
	if err != nil {
		return fmt.Errorf("reload channel %s: %w", c.row.ID, err)
	}
	stats, err := db.GetChannelStats(ctx, c.row.ID)
	if err != nil {
		return fmt.Errorf("reload channel %s: %w", c.row.ID, err)
	}
	c.row, c.stats = row, stats
	return nil
}

// Virtual is a channel whose videos are computed from a filter
type Virtual struct {
	filter database.ChannelFilter
}

func NewVirtual(f database.ChannelFilter) *Virtual {
	return &Virtual{filter: f}
}

// AllUnwatched returns the built-in view of every unwatched video
func AllUnwatched() *Virtual {
	return NewVirtual(database.ChannelFilter{
		ID:    AllUnwatchedID,
		Name:  "All Unwatched",
		Video: filter.Mask{Mask: uint32(database.FlagWatched), Value: 0},
	})
}

// ID is derived from the filter: saved filters use their id, transient
// ones a slug of their name.
func (c *Virtual) ID() string {
	if c.filter.ID > 0 {
		return fmt.Sprintf("virtual:%d", c.filter.ID)
	}
	return "virtual:" + slug(c.filter.Name)
}

func (c *Virtual) Name() string    { return c.filter.Name }
func (c *Virtual) IsVirtual() bool { return true }

func (c *Virtual) Filter() database.ChannelFilter { return c.filter }

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
