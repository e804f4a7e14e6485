package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// DefaultFeedURL is the public uploads feed endpoint
const DefaultFeedURL = "https://www.youtube.com/feeds/videos.xml"

// RSSClient reads uploads playlists from the public Atom feed. It needs no
// key but only sees the most recent uploads, as a single page.
type RSSClient struct {
	client   *http.Client
	parser   *gofeed.Parser
	feedURL  string
	resolver *Resolver
}

func NewRSSClient(client *http.Client, feedURL string) *RSSClient {
	if client == nil {
		client = NewHTTPClient()
	}
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	return &RSSClient{
		client:   client,
		parser:   gofeed.NewParser(),
		feedURL:  feedURL,
		resolver: NewResolver(client),
	}
}

// PlaylistID returns the uploads playlist of a channel
func (c *RSSClient) PlaylistID(channelID string) string {
	return UploadsPlaylistID(channelID)
}

// LookupChannel supports ids and channel page URLs only
func (c *RSSClient) LookupChannel(ctx context.Context, sel Selector, value string) (ChannelIdentity, error) {
	id := value
	switch sel {
	case SelectorID:
	case SelectorURL:
		var err error
		if id, err = c.resolver.ResolveURL(ctx, value); err != nil {
			return ChannelIdentity{}, err
		}
	default:
		return ChannelIdentity{}, fmt.Errorf("%w: %q with the feed provider", ErrUnsupportedSelector, sel)
	}

	feed, err := c.fetch(ctx, "lookup channel", url.Values{"channel_id": {id}})
	if err != nil {
		return ChannelIdentity{}, err
	}
	if channelID := extValue(feed.Extensions, "yt", "channelId"); channelID != "" {
		id = channelID
	}
	return ChannelIdentity{ID: id, Name: feed.Title}, nil
}

// ListPlaylistItems returns the whole feed as one page. Any page token
// yields an empty page since the feed has no continuation.
func (c *RSSClient) ListPlaylistItems(ctx context.Context, playlistID, pageToken string) (*Page, error) {
	if pageToken != "" {
		return &Page{}, nil
	}

	feed, err := c.fetch(ctx, "list playlist items", url.Values{"playlist_id": {playlistID}})
	if err != nil {
		return nil, err
	}

	page := &Page{Items: make([]Item, 0, len(feed.Items)), TotalAvailable: len(feed.Items)}
	for _, it := range feed.Items {
		item := Item{
			VideoID:     extValue(it.Extensions, "yt", "videoId"),
			Title:       it.Title,
			Description: mediaDescription(it),
		}
		if item.VideoID == "" {
			item.VideoID = strings.TrimPrefix(it.GUID, "yt:video:")
		}
		if item.VideoID == "" {
			return nil, &ParseError{Op: "list playlist items", Err: fmt.Errorf("entry %q without video id", it.Title)}
		}
		if it.PublishedParsed == nil {
			return nil, &ParseError{Op: "list playlist items", Err: fmt.Errorf("video %s has no publish time", item.VideoID)}
		}
		// The feed does not distinguish the two times.
		item.Published = it.PublishedParsed.UTC()
		item.AddedToPlaylist = item.Published
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func (c *RSSClient) fetch(ctx context.Context, op string, query url.Values) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrChannelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response status")}
	}

	const maxFeedBytes = 5 << 20
	feed, err := c.parser.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, &ParseError{Op: op, Err: err}
	}
	if feed == nil {
		return nil, &ParseError{Op: op, Err: fmt.Errorf("empty document")}
	}
	return feed, nil
}

func extValue(exts ext.Extensions, ns, name string) string {
	if exts == nil {
		return ""
	}
	if vals := exts[ns][name]; len(vals) > 0 {
		return strings.TrimSpace(vals[0].Value)
	}
	return ""
}

func mediaDescription(it *gofeed.Item) string {
	if groups := it.Extensions["media"]["group"]; len(groups) > 0 {
		if desc := groups[0].Children["description"]; len(desc) > 0 {
			return desc[0].Value
		}
	}
	return it.Description
}
