// Package videodate looks up when a YouTube video was published by reading
// the itemprop metadata of its watch page.
package videodate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// Interval is the minimum spacing between two page fetches.
const Interval = 5 * time.Second

// Lookup fetches watch pages behind a rate limiter and caches results per video id.
type Lookup struct {
	Client  *http.Client
	Limiter *rate.Limiter
	// WatchURL builds the page URL for a video id. nil means www.youtube.com/watch.
	WatchURL func(id string) string

	mu    sync.Mutex
	cache map[string]time.Time
}

// New returns a Lookup that spaces requests by Interval.
func New(client *http.Client) *Lookup {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Lookup{
		Client:  client,
		Limiter: rate.NewLimiter(rate.Every(Interval), 1),
	}
}

// VideoID extracts the id from youtube.com and youtu.be links.
func VideoID(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch host {
	case "youtu.be":
		if parts[0] != "" {
			return parts[0], true
		}
	case "youtube.com":
		if v := u.Query().Get("v"); v != "" {
			return v, true
		}
		if len(parts) == 2 {
			switch parts[0] {
			case "shorts", "live", "embed":
				return parts[1], true
			}
		}
	}
	return "", false
}

// UploadDate returns the publish date of the video behind videoURL. ok is
// false when videoURL is not a YouTube link.
func (l *Lookup) UploadDate(ctx context.Context, videoURL string) (time.Time, bool, error) {
	id, ok := VideoID(videoURL)
	if !ok {
		return time.Time{}, false, nil
	}
	l.mu.Lock()
	if t, hit := l.cache[id]; hit {
		l.mu.Unlock()
		return t, true, nil
	}
	l.mu.Unlock()

	t, err := l.fetch(ctx, id)
	if err != nil {
		return time.Time{}, false, err
	}
	l.mu.Lock()
	if l.cache == nil {
		l.cache = map[string]time.Time{}
	}
	l.cache[id] = t
	l.mu.Unlock()
	return t, true, nil
}

func (l *Lookup) watchURL(id string) string {
	if l.WatchURL != nil {
		return l.WatchURL(id)
	}
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(id)
}

func (l *Lookup) fetch(ctx context.Context, id string) (time.Time, error) {
	if l.Limiter != nil {
		if err := l.Limiter.Wait(ctx); err != nil {
			return time.Time{}, fmt.Errorf("rate limiter error: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.watchURL(id), nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse HTML: %w", err)
	}
	var content string
	for _, sel := range []string{`meta[itemprop="uploadDate"]`, `meta[itemprop="datePublished"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			content = strings.TrimSpace(v)
			break
		}
	}
	if content == "" {
		return time.Time{}, fmt.Errorf("video %s: no upload date on page", id)
	}
	return ParseDate(content)
}

// ParseDate accepts RFC 3339 timestamps and bare dates.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
	return t, nil
}
