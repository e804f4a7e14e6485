package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"tubewatch/internal/database"
)

var (
	ErrNoSuchChannel = errors.New("no such channel")
	ErrNoSelection   = errors.New("no channel selected")
)

// Directory is the ordered channel list with a selection that follows the
// selected channel's id across list changes
type Directory struct {
	db       *database.DB
	engine   *Engine
	logger   *log.Logger
	channels []Channel
	selected string
}

func NewDirectory(db *database.DB, engine *Engine, logger *log.Logger) *Directory {
	return &Directory{db: db, engine: engine, logger: logger}
}

// Load replaces the list with All Unwatched, every stored channel and
// every saved filter
func (d *Directory) Load(ctx context.Context) error {
	rows, err := d.db.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	filters, err := d.db.ListFilters(ctx)
	if err != nil {
		return fmt.Errorf("load filters: %w", err)
	}

	channels := make([]Channel, 0, 1+len(rows)+len(filters))
	channels = append(channels, AllUnwatched())
	for _, f := range filters {
		channels = append(channels, NewVirtual(f))
	}
	for _, row := range rows {
		c := NewReal(row)
		if err := c.Reload(ctx, d.db); err != nil {
			return err
		}
		channels = append(channels, c)
	}

	d.channels = channels
	d.sort()
	if d.Find(d.selected) == nil {
		d.selected = d.channels[0].ID()
	}
	d.logger.Printf("Loaded %d channels and %d filters", len(rows), len(filters))
	return nil
}

// Add inserts ch, replacing any channel with the same id
func (d *Directory) Add(ch Channel) {
	for i, c := range d.channels {
		if c.ID() == ch.ID() {
			d.channels = append(d.channels[:i], d.channels[i+1:]...)
			break
		}
	}
	d.channels = append(d.channels, ch)
	d.sort()
	if d.selected == "" {
		d.selected = ch.ID()
	}
}

// Remove drops the channel with the given id from the list
func (d *Directory) Remove(id string) bool {
	for i, c := range d.channels {
		if c.ID() == id {
			d.channels = append(d.channels[:i], d.channels[i+1:]...)
			if d.selected == id {
				d.selected = ""
				if len(d.channels) > 0 {
					d.selected = d.channels[min(i, len(d.channels)-1)].ID()
				}
			}
			return true
		}
	}
	return false
}

// sort orders virtual channels before real ones, each group by name
func (d *Directory) sort() {
	sort.SliceStable(d.channels, func(i, j int) bool {
		a, b := d.channels[i], d.channels[j]
		if a.IsVirtual() != b.IsVirtual() {
			return a.IsVirtual()
		}
		return strings.ToLower(a.Name()) < strings.ToLower(b.Name())
	})
}

// All returns the channels in display order
func (d *Directory) All() []Channel {
	out := make([]Channel, len(d.channels))
	copy(out, d.channels)
	return out
}

// Real returns the stored channels in display order
func (d *Directory) Real() []*Real {
	var out []*Real
	for _, c := range d.channels {
		if r, ok := c.(*Real); ok {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the channel with the given id, or nil
func (d *Directory) Find(id string) Channel {
	for _, c := range d.channels {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// SelectByID selects the channel with the given id
func (d *Directory) SelectByID(id string) error {
	if d.Find(id) == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchChannel, id)
	}
	d.selected = id
	return nil
}

// SelectByIndex selects the channel at position i in display order
func (d *Directory) SelectByIndex(i int) error {
	if i < 0 || i >= len(d.channels) {
		return fmt.Errorf("%w: index %d", ErrNoSuchChannel, i)
	}
	d.selected = d.channels[i].ID()
	return nil
}

// Selected returns the selected channel, or nil when the list is empty
func (d *Directory) Selected() Channel {
	return d.Find(d.selected)
}

// SelectedIndex returns the display position of the selection, or -1
func (d *Directory) SelectedIndex() int {
	for i, c := range d.channels {
		if c.ID() == d.selected {
			return i
		}
	}
	return -1
}

// MarkAllWatched sets the watched flag on every video of ch in one
// transaction and reloads the counts of every channel it touched. For a
// virtual channel that is every video currently matching its filter.
func (d *Directory) MarkAllWatched(ctx context.Context, ch Channel) (int, error) {
	affected := map[string]bool{}
	marked := 0

	err := d.db.InTx(ctx, func(tx *database.Tx) error {
		switch c := ch.(type) {
		case *Real:
			n, err := tx.SetChannelVideosFlag(ctx, c.ID(), database.FlagWatched, true)
			if err != nil {
				return err
			}
			marked = int(n)
			affected[c.ID()] = true
		case *Virtual:
			f := c.Filter()
			videos, err := tx.VideosMatching(ctx, f.Video, f.User)
			if err != nil {
				return err
			}
			for _, v := range videos {
				if v.Watched() {
					continue
				}
				if err := tx.SetVideoFlag(ctx, v.ID, database.FlagWatched, true); err != nil {
					return err
				}
				affected[v.ChannelID] = true
				marked++
			}
		default:
			return fmt.Errorf("%w: %T", ErrUnknownKind, ch)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := d.reload(ctx, affected); err != nil {
		return marked, err
	}
	d.logger.Printf("Marked %d videos watched in %s", marked, ch.Name())
	return marked, nil
}

// SetWatched changes the watched flag of one video and reloads its channel
func (d *Directory) SetWatched(ctx context.Context, v database.Video, watched bool) error {
	if err := d.engine.SetWatched(ctx, v, watched); err != nil {
		return err
	}
	return d.reload(ctx, map[string]bool{v.ChannelID: true})
}

func (d *Directory) reload(ctx context.Context, ids map[string]bool) error {
	for _, r := range d.Real() {
		if !ids[r.ID()] {
			continue
		}
		if err := r.Reload(ctx, d.db); err != nil {
			return err
		}
	}
	return nil
}
