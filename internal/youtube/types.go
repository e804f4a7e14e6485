// Package youtube implements the remote channel feeds videos are synced from.
package youtube

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// MaxPageSize is the largest page the playlist endpoints return
const MaxPageSize = 50

var (
	ErrChannelNotFound     = errors.New("channel not found")
	ErrNoPageInfo          = errors.New("response carries no page information")
	ErrUnsupportedSelector = errors.New("unsupported channel selector")
	ErrInvalidURL          = errors.New("invalid channel URL")
)

// Selector names how a channel lookup value is interpreted
type Selector string

const (
	SelectorID       Selector = "id"
	SelectorUsername Selector = "forUsername"
	SelectorHandle   Selector = "forHandle"
	SelectorURL      Selector = "url"
)

// ParseSelector accepts the selector names used on the command line
func ParseSelector(s string) (Selector, error) {
	switch strings.ToLower(s) {
	case "id":
		return SelectorID, nil
	case "user", "username", "forusername":
		return SelectorUsername, nil
	case "handle", "forhandle":
		return SelectorHandle, nil
	case "url":
		return SelectorURL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedSelector, s)
}

// ChannelIdentity is the remote identity of a channel
type ChannelIdentity struct {
	ID   string
	Name string
}

// Item is one entry of an uploads playlist
type Item struct {
	VideoID         string
	Title           string
	Description     string
	AddedToPlaylist time.Time
	Published       time.Time
}

// Page is one page of playlist items, newest first
type Page struct {
	Items          []Item
	NextPageToken  string
	TotalAvailable int
}

// TransportError reports a failed request. StatusCode is zero when no
// response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("youtube: %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("youtube: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError reports a response body that could not be understood
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("youtube: %s: malformed response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// UploadsPlaylistID derives the uploads playlist of a channel from its id
func UploadsPlaylistID(channelID string) string {
	if len(channelID) < 2 {
		return channelID
	}
	return "UU" + channelID[2:]
}

// NewHTTPClient returns the client shared by the remote feeds
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: 30 * time.Second, Transport: transport, CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("stopped after 5 redirects")
		}
		return nil
	}}
}

func parseTimestamp(op, field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &ParseError{Op: op, Err: fmt.Errorf("%s: %w", field, err)}
	}
	return t.UTC(), nil
}
