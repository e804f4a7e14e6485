// Package flags manages the user-defined channel tags. Each tag owns one bit
// of a channel's 32-bit user flag mask.
package flags

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"tubewatch/internal/database"
)

// MaxFlags is the number of bits available for user flags
const MaxFlags = 32

var (
	ErrOutOfFlags  = errors.New("all user flags are in use")
	ErrCorrupt     = errors.New("user flag registry is corrupt")
	ErrEmptyName   = errors.New("user flag name is empty")
	ErrUnknownFlag = errors.New("unknown user flag")
)

// InvariantError reports a stored flag id that breaks the contiguous
// 1, 2, 4, ... sequence. The registry cannot be repaired automatically.
type InvariantError struct {
	Expected uint32
	Found    uint32
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v: expected flag id %d, found %d", ErrCorrupt, e.Expected, e.Found)
}

func (e *InvariantError) Unwrap() error {
	return ErrCorrupt
}

// Registry allocates and names user flags
type Registry struct {
	db     *database.DB
	logger *log.Logger
}

func NewRegistry(db *database.DB, logger *log.Logger) *Registry {
	return &Registry{db: db, logger: logger}
}

// List returns all flags ordered by id
func (r *Registry) List(ctx context.Context) ([]database.UserFlag, error) {
	return r.db.ListUserFlags(ctx)
}

// Load returns all flags after checking that their ids are contiguous
func (r *Registry) Load(ctx context.Context) ([]database.UserFlag, error) {
	flags, err := r.db.ListUserFlags(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := nextID(flags); err != nil && !errors.Is(err, ErrOutOfFlags) {
		return nil, err
	}
	return flags, nil
}

// nextID validates flags, which must be ordered by id, and returns the id
// the next allocation would receive.
func nextID(flags []database.UserFlag) (uint32, error) {
	expected := uint64(1)
	for _, f := range flags {
		if uint64(f.ID) != expected {
			return 0, &InvariantError{Expected: uint32(expected), Found: f.ID}
		}
		expected <<= 1
	}
	if expected >= 1<<MaxFlags {
		return 0, ErrOutOfFlags
	}
	return uint32(expected), nil
}

// Allocate creates a flag with the lowest free bit
func (r *Registry) Allocate(ctx context.Context, name string) (database.UserFlag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return database.UserFlag{}, ErrEmptyName
	}

	var flag database.UserFlag
	err := r.db.InTx(ctx, func(tx *database.Tx) error {
		flags, err := tx.ListUserFlags(ctx)
		if err != nil {
			return err
		}
		id, err := nextID(flags)
		if err != nil {
			return err
		}
		flag = database.UserFlag{ID: id, Name: name}
		return tx.InsertUserFlag(ctx, flag)
	})
	if err != nil {
		return database.UserFlag{}, err
	}

	r.logger.Printf("Allocated user flag %q with id %d", flag.Name, flag.ID)
	return flag, nil
}

// Rename changes the name of an existing flag
func (r *Registry) Rename(ctx context.Context, id uint32, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if err := r.db.RenameUserFlag(ctx, id, name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownFlag, id)
		}
		return err
	}
	return nil
}

// Lookup finds a flag by name, ignoring case
func (r *Registry) Lookup(ctx context.Context, name string) (database.UserFlag, error) {
	flags, err := r.db.ListUserFlags(ctx)
	if err != nil {
		return database.UserFlag{}, err
	}
	for _, f := range flags {
		if strings.EqualFold(f.Name, strings.TrimSpace(name)) {
			return f, nil
		}
	}
	return database.UserFlag{}, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
}

// ToggleChannel flips flag id on a channel and stores the new mask
func (r *Registry) ToggleChannel(ctx context.Context, ch database.Channel, id uint32) (database.Channel, error) {
	err := r.db.InTx(ctx, func(tx *database.Tx) error {
		flags, err := tx.ListUserFlags(ctx)
		if err != nil {
			return err
		}
		known := false
		for _, f := range flags {
			if f.ID == id {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: %d", ErrUnknownFlag, id)
		}

		ch.UserFlags ^= id
		return tx.UpdateChannelFlags(ctx, ch.ID, ch.UserFlags)
	})
	if err != nil {
		return database.Channel{}, err
	}
	return ch, nil
}
