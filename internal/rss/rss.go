// Package rss renders a channel's video list as an RSS 2.0 document.
package rss

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"tubewatch/internal/database"
)

const watchURL = "https://www.youtube.com/watch?v="

// RSS is the root element of an RSS feed.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	AtomNS  string   `xml:"xmlns:atom,attr,omitempty"`
	Channel Channel  `xml:"channel"`
}

// AtomLink is the atom:link element pointing a feed at its own URL
type AtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// Channel represents the channel element in an RSS feed.
type Channel struct {
	XMLName       xml.Name  `xml:"channel"`
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Generator     string    `xml:"generator,omitempty"`
	SelfLink      *AtomLink `xml:"atom:link,omitempty"`
	Items         []Item    `xml:"item"`
}

// Item is one video.
type Item struct {
	XMLName     xml.Name `xml:"item"`
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description,omitempty"`
	PubDate     string   `xml:"pubDate,omitempty"`
	GUID        GUID     `xml:"guid"`
	Categories  []string `xml:"category,omitempty"`
}

// GUID identifies an item. Video ids are not URLs, so IsPermaLink stays false.
type GUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// ChannelLink returns the public page of a stored channel. Virtual
// channels have no page and get an empty link.
func ChannelLink(id string) string {
	if len(id) < 2 || id[:2] != "UC" {
		return ""
	}
	return "https://www.youtube.com/channel/" + id
}

// Build converts videos, already in display order, into a feed
func Build(title, link string, videos []database.Video, now time.Time) RSS {
	items := make([]Item, 0, len(videos))
	for _, v := range videos {
		item := Item{
			Title:       v.Title,
			Link:        watchURL + v.ID,
			Description: v.Description,
			PubDate:     v.Timestamp().UTC().Format(time.RFC1123Z),
			GUID:        GUID{Value: "yt:video:" + v.ID},
		}
		if v.Flags&database.FlagWatched != 0 {
			item.Categories = append(item.Categories, "watched")
		}
		if v.Flags&database.FlagDownloaded != 0 {
			item.Categories = append(item.Categories, "downloaded")
		}
		items = append(items, item)
	}

	return RSS{
		Version: "2.0",
		Channel: Channel{
			Title:         title,
			Link:          link,
			Description:   fmt.Sprintf("%d videos from %s", len(videos), title),
			LastBuildDate: now.UTC().Format(time.RFC1123Z),
			Generator:     "tubewatch",
			Items:         items,
		},
	}
}

// SetSelf records the URL the feed is served from
func (f *RSS) SetSelf(href string) {
	f.AtomNS = "http://www.w3.org/2005/Atom"
	f.Channel.SelfLink = &AtomLink{Href: href, Rel: "self", Type: "application/rss+xml"}
}

// Write encodes feed as indented XML with a declaration
func Write(w io.Writer, feed RSS) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		return fmt.Errorf("error encoding feed: %w", err)
	}
	return enc.Close()
}
