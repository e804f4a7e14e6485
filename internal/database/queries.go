// internal/database/queries.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"tubewatch/internal/filter"
)

// Error definitions
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreError reports a failed store operation. It indicates a broken schema
// or connection and is never retried.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// isDuplicateErr reports a primary key or unique violation. Foreign key
// failures are not duplicates.
func isDuplicateErr(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// VideoFlag is a built-in per-video state bit
type VideoFlag uint32

const (
	FlagWatched    VideoFlag = 1 << 0
	FlagDownloaded VideoFlag = 1 << 1
)

// Video represents a stored video
type Video struct {
	ID              string
	ChannelID       string
	Title           string
	Description     string
	Flags           VideoFlag
	AddedToPlaylist time.Time
	Published       time.Time // zero for rows ingested before it was tracked
}

// Timestamp returns the time the video is ordered by
func (v Video) Timestamp() time.Time {
	if !v.Published.IsZero() {
		return v.Published
	}
	return v.AddedToPlaylist
}

// Watched reports whether the watched flag is set
func (v Video) Watched() bool {
	return v.Flags&FlagWatched != 0
}

// Channel represents a subscribed remote channel
type Channel struct {
	ID        string
	Name      string
	UserFlags uint32
}

// ChannelStats holds the aggregate counts of a channel
type ChannelStats struct {
	Videos    int
	Unwatched int
}

// UserFlag is a user-defined channel tag occupying one bit of a channel's mask
type UserFlag struct {
	ID   uint32
	Name string
}

// ChannelFilter is a saved predicate over video flags and channel tags
type ChannelFilter struct {
	ID    int64
	Name  string
	Video filter.Mask
	User  filter.Mask
}

// Transient reports whether the filter has never been saved
func (f ChannelFilter) Transient() bool {
	return f.ID < 0
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the statements shared by DB and Tx
type Queries struct {
	q queryer
}

// formatTime renders t for storage. RFC 3339 in UTC keeps lexical and
// chronological order identical.
func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s.String)
}

// GetSetting retrieves a setting value
func (q *Queries) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := q.q.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?",
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, storeErr("get setting", err)
}

// SetSetting inserts or replaces a setting
func (q *Queries) SetSetting(ctx context.Context, key, value string) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return storeErr("set setting", err)
}

// InsertChannel stores a newly subscribed channel
func (q *Queries) InsertChannel(ctx context.Context, ch Channel) error {
	if ch.ID == "" || ch.Name == "" {
		return ErrInvalidInput
	}
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO channels (channel_id, name, user_flags) VALUES (?, ?, ?)",
		ch.ID, ch.Name, int64(ch.UserFlags),
	)
	if isDuplicateErr(err) {
		return ErrAlreadyExists
	}
	return storeErr("insert channel", err)
}

// GetChannel retrieves a channel by id
func (q *Queries) GetChannel(ctx context.Context, id string) (Channel, error) {
	var ch Channel
	var flags int64
	err := q.q.QueryRowContext(ctx,
		"SELECT channel_id, name, user_flags FROM channels WHERE channel_id = ?",
		id,
	).Scan(&ch.ID, &ch.Name, &flags)
	if err == sql.ErrNoRows {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, storeErr("get channel", err)
	}
	ch.UserFlags = uint32(flags)
	return ch, nil
}

// ListChannels returns all channels ordered by name
func (q *Queries) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT channel_id, name, user_flags FROM channels ORDER BY name",
	)
	if err != nil {
		return nil, storeErr("list channels", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		var flags int64
		if err := rows.Scan(&ch.ID, &ch.Name, &flags); err != nil {
			return nil, storeErr("scan channel", err)
		}
		ch.UserFlags = uint32(flags)
		channels = append(channels, ch)
	}
	return channels, storeErr("list channels", rows.Err())
}

// UpdateChannelFlags replaces the user flag mask of a channel
func (q *Queries) UpdateChannelFlags(ctx context.Context, id string, flags uint32) error {
	result, err := q.q.ExecContext(ctx,
		"UPDATE channels SET user_flags = ? WHERE channel_id = ?",
		int64(flags), id,
	)
	if err != nil {
		return storeErr("update channel flags", err)
	}
	return requireRow(result, "update channel flags")
}

// DeleteChannel removes a channel and, by cascade, all of its videos
func (q *Queries) DeleteChannel(ctx context.Context, id string) error {
	result, err := q.q.ExecContext(ctx, "DELETE FROM channels WHERE channel_id = ?", id)
	if err != nil {
		return storeErr("delete channel", err)
	}
	return requireRow(result, "delete channel")
}

// GetChannelStats counts the videos and unwatched videos of a channel
func (q *Queries) GetChannelStats(ctx context.Context, id string) (ChannelStats, error) {
	var stats ChannelStats
	err := q.q.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM videos WHERE channel_id = ?1),
			(SELECT COUNT(*) FROM videos WHERE channel_id = ?1 AND flags & ?2 = 0)`,
		id, int64(FlagWatched),
	).Scan(&stats.Videos, &stats.Unwatched)
	return stats, storeErr("channel stats", err)
}

// ListUserFlags returns all user flags ordered by id
func (q *Queries) ListUserFlags(ctx context.Context) ([]UserFlag, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT flag_id, name FROM user_flags ORDER BY flag_id")
	if err != nil {
		return nil, storeErr("list user flags", err)
	}
	defer rows.Close()

	var flags []UserFlag
	for rows.Next() {
		var id int64
		var f UserFlag
		if err := rows.Scan(&id, &f.Name); err != nil {
			return nil, storeErr("scan user flag", err)
		}
		f.ID = uint32(id)
		flags = append(flags, f)
	}
	return flags, storeErr("list user flags", rows.Err())
}

// InsertUserFlag stores a new user flag
func (q *Queries) InsertUserFlag(ctx context.Context, f UserFlag) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO user_flags (flag_id, name) VALUES (?, ?)",
		int64(f.ID), f.Name,
	)
	if isDuplicateErr(err) {
		return ErrAlreadyExists
	}
	return storeErr("insert user flag", err)
}

// RenameUserFlag changes the name of a user flag
func (q *Queries) RenameUserFlag(ctx context.Context, id uint32, name string) error {
	result, err := q.q.ExecContext(ctx,
		"UPDATE user_flags SET name = ? WHERE flag_id = ?",
		name, int64(id),
	)
	if err != nil {
		return storeErr("rename user flag", err)
	}
	return requireRow(result, "rename user flag")
}

// ListFilters returns all saved channel filters ordered by id
func (q *Queries) ListFilters(ctx context.Context) ([]ChannelFilter, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT filter_id, name, video_mask, video_value, user_mask, user_value
		FROM channel_filters ORDER BY filter_id`,
	)
	if err != nil {
		return nil, storeErr("list filters", err)
	}
	defer rows.Close()

	var filters []ChannelFilter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, storeErr("list filters", rows.Err())
}

// GetFilter retrieves a saved filter by id
func (q *Queries) GetFilter(ctx context.Context, id int64) (ChannelFilter, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT filter_id, name, video_mask, video_value, user_mask, user_value
		FROM channel_filters WHERE filter_id = ?`,
		id,
	)
	f, err := scanFilter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelFilter{}, ErrNotFound
	}
	return f, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFilter(s scanner) (ChannelFilter, error) {
	var f ChannelFilter
	var vm, vv, um, uv int64
	if err := s.Scan(&f.ID, &f.Name, &vm, &vv, &um, &uv); err != nil {
		if err == sql.ErrNoRows {
			return f, err
		}
		return f, storeErr("scan filter", err)
	}
	f.Video = filter.Mask{Mask: uint32(vm), Value: uint32(vv)}
	f.User = filter.Mask{Mask: uint32(um), Value: uint32(uv)}
	return f, nil
}

// InsertFilter creates an empty filter and returns it with its new id
func (q *Queries) InsertFilter(ctx context.Context, name string) (ChannelFilter, error) {
	if name == "" {
		return ChannelFilter{}, ErrInvalidInput
	}
	result, err := q.q.ExecContext(ctx, "INSERT INTO channel_filters (name) VALUES (?)", name)
	if err != nil {
		return ChannelFilter{}, storeErr("insert filter", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return ChannelFilter{}, storeErr("insert filter", err)
	}
	return ChannelFilter{ID: id, Name: name}, nil
}

// SaveFilter writes the name and masks of a saved filter
func (q *Queries) SaveFilter(ctx context.Context, f ChannelFilter) error {
	if f.Transient() {
		return fmt.Errorf("%w: filter %q is not saved", ErrInvalidInput, f.Name)
	}
	result, err := q.q.ExecContext(ctx,
		`UPDATE channel_filters SET
			name = ?, video_mask = ?, video_value = ?, user_mask = ?, user_value = ?
		WHERE filter_id = ?`,
		f.Name, int64(f.Video.Mask), int64(f.Video.Value), int64(f.User.Mask), int64(f.User.Value), f.ID,
	)
	if err != nil {
		return storeErr("save filter", err)
	}
	return requireRow(result, "save filter")
}

func requireRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const videoColumns = `v.video_id, v.channel_id, v.title, v.description, v.flags, v.added_to_playlist, v.published`

// Newest first by published time, falling back to the playlist time for
// rows that predate it. The video id breaks ties so the order is stable.
const videoOrder = `ORDER BY COALESCE(NULLIF(v.published, ''), v.added_to_playlist) DESC, v.video_id`

func scanVideo(s scanner) (Video, error) {
	var v Video
	var flags int64
	var added, published sql.NullString
	if err := s.Scan(&v.ID, &v.ChannelID, &v.Title, &v.Description, &flags, &added, &published); err != nil {
		return v, err
	}
	v.Flags = VideoFlag(flags)

	var err error
	if v.AddedToPlaylist, err = parseTime(added); err != nil {
		return v, fmt.Errorf("video %s: bad added_to_playlist: %w", v.ID, err)
	}
	if v.Published, err = parseTime(published); err != nil {
		return v, fmt.Errorf("video %s: bad published: %w", v.ID, err)
	}
	return v, nil
}

func (q *Queries) listVideos(ctx context.Context, op, query string, args ...any) ([]Video, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		videos = append(videos, v)
	}
	return videos, storeErr(op, rows.Err())
}

// LatestAddedToPlaylist returns the newest playlist time stored for a
// channel, or the zero time when the channel has no videos
func (q *Queries) LatestAddedToPlaylist(ctx context.Context, channelID string) (time.Time, error) {
	var latest sql.NullString
	err := q.q.QueryRowContext(ctx,
		"SELECT MAX(added_to_playlist) FROM videos WHERE channel_id = ?",
		channelID,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, storeErr("latest video", err)
	}
	t, err := parseTime(latest)
	return t, storeErr("latest video", err)
}

// VideoExists reports whether a channel already has the video stored
func (q *Queries) VideoExists(ctx context.Context, channelID, videoID string) (bool, error) {
	var exists bool
	err := q.q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM videos WHERE channel_id = ? AND video_id = ?)",
		channelID, videoID,
	).Scan(&exists)
	return exists, storeErr("video exists", err)
}

// InsertVideo stores a video
func (q *Queries) InsertVideo(ctx context.Context, v Video) error {
	if v.ID == "" || v.ChannelID == "" {
		return ErrInvalidInput
	}
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO videos (video_id, channel_id, title, description, flags, added_to_playlist, published)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ChannelID, v.Title, v.Description, int64(v.Flags),
		formatTime(v.AddedToPlaylist), formatTime(v.Published),
	)
	if isDuplicateErr(err) {
		return ErrAlreadyExists
	}
	return storeErr("insert video", err)
}

// GetVideo retrieves a video by id
func (q *Queries) GetVideo(ctx context.Context, id string) (Video, error) {
	v, err := scanVideo(q.q.QueryRowContext(ctx,
		"SELECT "+videoColumns+" FROM videos v WHERE v.video_id = ?",
		id,
	))
	if err == sql.ErrNoRows {
		return Video{}, ErrNotFound
	}
	return v, storeErr("get video", err)
}

// VideosForChannel returns all videos of a channel, newest first
func (q *Queries) VideosForChannel(ctx context.Context, channelID string) ([]Video, error) {
	return q.listVideos(ctx, "videos for channel",
		"SELECT "+videoColumns+" FROM videos v WHERE v.channel_id = ? "+videoOrder,
		channelID,
	)
}

// VideosMatching returns every video whose flags satisfy video and whose
// channel's tags satisfy user, newest first across all channels
func (q *Queries) VideosMatching(ctx context.Context, video, user filter.Mask) ([]Video, error) {
	video, user = video.Normalized(), user.Normalized()
	return q.listVideos(ctx, "videos matching",
		"SELECT "+videoColumns+` FROM videos v
		JOIN channels c ON c.channel_id = v.channel_id
		WHERE (v.flags & ?) = ? AND (c.user_flags & ?) = ? `+videoOrder,
		int64(video.Mask), int64(video.Value), int64(user.Mask), int64(user.Value),
	)
}

// SetVideoFlag sets or clears a flag on one video
func (q *Queries) SetVideoFlag(ctx context.Context, videoID string, flag VideoFlag, on bool) error {
	query := "UPDATE videos SET flags = flags | ? WHERE video_id = ?"
	if !on {
		query = "UPDATE videos SET flags = flags & ~? WHERE video_id = ?"
	}
	result, err := q.q.ExecContext(ctx, query, int64(flag), videoID)
	if err != nil {
		return storeErr("set video flag", err)
	}
	return requireRow(result, "set video flag")
}

// SetChannelVideosFlag sets or clears a flag on every video of a channel
// and returns the number of rows touched
func (q *Queries) SetChannelVideosFlag(ctx context.Context, channelID string, flag VideoFlag, on bool) (int64, error) {
	query := "UPDATE videos SET flags = flags | ? WHERE channel_id = ?"
	if !on {
		query = "UPDATE videos SET flags = flags & ~? WHERE channel_id = ?"
	}
	result, err := q.q.ExecContext(ctx, query, int64(flag), channelID)
	if err != nil {
		return 0, storeErr("set channel videos flag", err)
	}
	n, err := result.RowsAffected()
	return n, storeErr("set channel videos flag", err)
}

// LatestVideo returns the video most recently added to a channel's playlist
func (q *Queries) LatestVideo(ctx context.Context, channelID string) (Video, error) {
	v, err := scanVideo(q.q.QueryRowContext(ctx,
		"SELECT "+videoColumns+` FROM videos v WHERE v.channel_id = ?
		ORDER BY v.added_to_playlist DESC, v.video_id LIMIT 1`,
		channelID,
	))
	if err == sql.ErrNoRows {
		return Video{}, ErrNotFound
	}
	return v, storeErr("latest video", err)
}
