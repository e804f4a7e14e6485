package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"
)

// APIConfig configures an APIClient
type APIConfig struct {
	APIKey string
	// Headers are added to every request.
	Headers http.Header
	// Endpoint overrides the API base URL.
	Endpoint   string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// APIClient reads channels and uploads playlists from the YouTube Data API v3
type APIClient struct {
	service  *ytapi.Service
	apiKey   string
	headers  http.Header
	resolver *Resolver
	logger   *log.Logger
}

// NewAPIClient creates an API client. The key travels as the "key" query
// parameter on each call since a custom HTTP client disables option.WithAPIKey.
func NewAPIClient(ctx context.Context, cfg APIConfig) (*APIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	service, err := ytapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	return &APIClient{
		service:  service,
		apiKey:   cfg.APIKey,
		headers:  cfg.Headers.Clone(),
		resolver: NewResolver(client),
		logger:   logger,
	}, nil
}

// PlaylistID returns the uploads playlist of a channel
func (c *APIClient) PlaylistID(channelID string) string {
	return UploadsPlaylistID(channelID)
}

func (c *APIClient) setHeaders(h http.Header) {
	for k, vs := range c.headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
}

// LookupChannel resolves a channel by id, username, handle or page URL
func (c *APIClient) LookupChannel(ctx context.Context, sel Selector, value string) (ChannelIdentity, error) {
	call := c.service.Channels.List([]string{"snippet"}).Context(ctx)
	switch sel {
	case SelectorID:
		call = call.Id(value)
	case SelectorUsername:
		call = call.ForUsername(value)
	case SelectorHandle:
		call = call.ForHandle(value)
	case SelectorURL:
		id, err := c.resolver.ResolveURL(ctx, value)
		if err != nil {
			return ChannelIdentity{}, err
		}
		call = call.Id(id)
	default:
		return ChannelIdentity{}, fmt.Errorf("%w: %q", ErrUnsupportedSelector, sel)
	}
	c.setHeaders(call.Header())

	resp, err := call.Do(googleapi.QueryParameter("key", c.apiKey))
	if err != nil {
		return ChannelIdentity{}, classifyAPIError("lookup channel", err)
	}

	if resp.PageInfo == nil || resp.PageInfo.TotalResults == 0 || len(resp.Items) == 0 {
		return ChannelIdentity{}, ErrChannelNotFound
	}
	ch := resp.Items[0]
	if ch.Snippet == nil || ch.Id == "" {
		return ChannelIdentity{}, &ParseError{Op: "lookup channel", Err: errors.New("channel without id or snippet")}
	}
	return ChannelIdentity{ID: ch.Id, Name: ch.Snippet.Title}, nil
}

// ListPlaylistItems fetches one page of a playlist. A successful response
// without page information yields ErrNoPageInfo.
func (c *APIClient) ListPlaylistItems(ctx context.Context, playlistID, pageToken string) (*Page, error) {
	call := c.service.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(playlistID).
		MaxResults(MaxPageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	c.setHeaders(call.Header())

	resp, err := call.Do(googleapi.QueryParameter("key", c.apiKey))
	if err != nil {
		return nil, classifyAPIError("list playlist items", err)
	}
	if resp.PageInfo == nil {
		c.logger.Printf("Playlist %s: response without page info", playlistID)
		return nil, ErrNoPageInfo
	}

	page := &Page{
		NextPageToken:  resp.NextPageToken,
		TotalAvailable: int(resp.PageInfo.TotalResults),
		Items:          make([]Item, 0, len(resp.Items)),
	}
	for _, it := range resp.Items {
		item, err := convertPlaylistItem(it)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func convertPlaylistItem(it *ytapi.PlaylistItem) (Item, error) {
	const op = "list playlist items"
	if it == nil || it.Snippet == nil {
		return Item{}, &ParseError{Op: op, Err: errors.New("playlist item without snippet")}
	}

	item := Item{Title: it.Snippet.Title, Description: it.Snippet.Description}
	if it.Snippet.ResourceId != nil {
		item.VideoID = it.Snippet.ResourceId.VideoId
	}
	if item.VideoID == "" && it.ContentDetails != nil {
		item.VideoID = it.ContentDetails.VideoId
	}
	if item.VideoID == "" {
		return Item{}, &ParseError{Op: op, Err: errors.New("playlist item without video id")}
	}

	var err error
	if item.AddedToPlaylist, err = parseTimestamp(op, "snippet.publishedAt", it.Snippet.PublishedAt); err != nil {
		return Item{}, err
	}
	if item.AddedToPlaylist.IsZero() {
		return Item{}, &ParseError{Op: op, Err: fmt.Errorf("video %s has no playlist time", item.VideoID)}
	}
	if it.ContentDetails != nil {
		if item.Published, err = parseTimestamp(op, "contentDetails.videoPublishedAt", it.ContentDetails.VideoPublishedAt); err != nil {
			return Item{}, err
		}
	}
	return item, nil
}

func classifyAPIError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &TransportError{Op: op, StatusCode: apiErr.Code, Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &ParseError{Op: op, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
