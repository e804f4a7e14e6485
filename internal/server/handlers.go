package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"tubewatch/internal/channel"
	"tubewatch/internal/rss"
)

// ChannelView is one row of the channel list
type ChannelView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Virtual   bool   `json:"virtual"`
	Videos    int    `json:"videos,omitempty"`
	Unwatched int    `json:"unwatched,omitempty"`
	Feed      string `json:"feed"`
}

func feedPath(id string) string {
	return "/feeds/" + url.PathEscape(id) + ".xml"
}

// channels reloads the directory and returns its rows in display order
func (s *Server) channels(ctx context.Context) ([]ChannelView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dir.Load(ctx); err != nil {
		return nil, err
	}
	var views []ChannelView
	for _, ch := range s.dir.All() {
		v := ChannelView{ID: ch.ID(), Name: ch.Name(), Virtual: ch.IsVirtual(), Feed: feedPath(ch.ID())}
		if rc, ok := ch.(*channel.Real); ok {
			v.Videos = rc.Videos()
			v.Unwatched = rc.Unwatched()
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	views, err := s.channels(r.Context())
	if err != nil {
		s.logger.Printf("Error loading channels: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	RespondWithJSON(w, http.StatusOK, views)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	views, err := s.channels(r.Context())
	if err != nil {
		s.logger.Printf("Error loading channels: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	last, err := s.service.LastRefresh(r.Context())
	if err != nil {
		s.logger.Printf("Error reading last refresh: %v", err)
	}

	data := struct {
		Channels    []ChannelView
		LastRefresh time.Time
	}{views, last}

	var buf bytes.Buffer
	if err := s.template.ExecuteTemplate(&buf, "index.html", data); err != nil {
		s.logger.Printf("Error rendering index: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(mux.Vars(r)["id"], ".xml")

	s.mu.Lock()
	if err := s.dir.Load(r.Context()); err != nil {
		s.mu.Unlock()
		s.logger.Printf("Error loading channels for feed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	ch := s.dir.Find(id)
	s.mu.Unlock()

	if ch == nil {
		s.handle404(w, r)
		return
	}

	videos, err := s.engine.Videos(r.Context(), ch)
	if err != nil {
		s.logger.Printf("Error getting videos for %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if limit := limitParam(r, s.config.MaxItems); len(videos) > limit {
		videos = videos[:limit]
	}

	feed := rss.Build(ch.Name(), rss.ChannelLink(ch.ID()), videos, time.Now())
	feed.SetSelf(baseURL(s.config.BaseURL, r) + feedPath(ch.ID()))

	var buf bytes.Buffer
	if err := rss.Write(&buf, feed); err != nil {
		s.logger.Printf("Error marshalling RSS feed to XML: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Printf("Error writing RSS XML response: %v", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Printf("Health check failed: DB ping error: %v", err)
		http.Error(w, "DB Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
