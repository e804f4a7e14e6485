package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"tubewatch/internal/security/netutil"
)

var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)

// Resolver turns a channel page URL into a channel id
type Resolver struct {
	client *http.Client
}

func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Resolver{client: client}
}

// ResolveURL returns the channel id of the page at pageURL. Plain
// /channel/<id> URLs are answered without a request.
func (r *Resolver) ResolveURL(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: must use HTTP or HTTPS", ErrInvalidURL)
	}
	if id := channelIDFromPath(u.Path); id != "" {
		return id, nil
	}

	if err := netutil.CheckHost(ctx, u.Hostname()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", &TransportError{Op: "resolve channel URL", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrChannelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", &TransportError{Op: "resolve channel URL", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	const maxPageBytes = 5 << 20
	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", &ParseError{Op: "resolve channel URL", Err: err}
	}

	if id := findChannelID(doc); id != "" {
		return id, nil
	}
	return "", ErrChannelNotFound
}

// findChannelID looks for the channelId meta tag first and falls back to
// the canonical link.
func findChannelID(doc *html.Node) string {
	var metaID, canonicalID string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				prop, content := attr(n, "itemprop"), attr(n, "content")
				if (prop == "channelId" || prop == "identifier") && channelIDPattern.MatchString(content) && metaID == "" {
					metaID = content
				}
			case "link":
				if strings.EqualFold(attr(n, "rel"), "canonical") && canonicalID == "" {
					if u, err := url.Parse(attr(n, "href")); err == nil {
						canonicalID = channelIDFromPath(u.Path)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if metaID != "" {
		return metaID
	}
	return canonicalID
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func channelIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "channel" && channelIDPattern.MatchString(parts[1]) {
		return parts[1]
	}
	return ""
}
