package videodate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestVideoID(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://youtu.be/abc123", "abc123", true},
		{"https://www.youtube.com/watch?v=abc123&t=10", "abc123", true},
		{"https://m.youtube.com/watch?v=xyz", "xyz", true},
		{"https://youtube.com/shorts/s1", "s1", true},
		{"https://www.youtube.com/live/l1", "l1", true},
		{"https://youtu.be/", "", false},
		{"https://clips.twitch.tv/abc", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := VideoID(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("VideoID(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2023-07-01")
	if err != nil || !d.Equal(time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("bare date: %v %v", d, err)
	}
	ts, err := ParseDate("2023-07-01T10:00:00-07:00")
	if err != nil || !ts.Equal(time.Date(2023, 7, 1, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp: %v %v", ts, err)
	}
	if _, err := ParseDate("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
}

const watchPage = `<html><head>
<meta itemprop="name" content="Skybound Sanctuary FC">
<meta itemprop="uploadDate" content="2023-07-01T10:00:00-07:00">
</head><body></body></html>`

func testLookup(srv *httptest.Server) *Lookup {
	l := New(srv.Client())
	l.Limiter = rate.NewLimiter(rate.Inf, 1)
	l.WatchURL = func(id string) string { return srv.URL + "/watch?v=" + id }
	return l
}

func TestUploadDate(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Query().Get("v") != "clip" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(watchPage))
	}))
	defer srv.Close()
	l := testLookup(srv)

	got, ok, err := l.UploadDate(context.Background(), "https://youtu.be/clip")
	if err != nil || !ok {
		t.Fatalf("lookup: %v %v", ok, err)
	}
	if !got.Equal(time.Date(2023, 7, 1, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", got)
	}
	// cached
	if _, _, err := l.UploadDate(context.Background(), "https://www.youtube.com/watch?v=clip"); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected one fetch, got %d", hits)
	}

	if _, ok, err := l.UploadDate(context.Background(), "https://example.com/clip"); ok || err != nil {
		t.Fatalf("non-YouTube links are not handled: %v %v", ok, err)
	}
	if _, _, err := l.UploadDate(context.Background(), "https://youtu.be/missing"); err == nil {
		t.Fatalf("expected HTTP error")
	}
}

func TestUploadDateFallsBackToDatePublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<meta itemprop="datePublished" content="2022-01-02">`))
	}))
	defer srv.Close()
	got, ok, err := testLookup(srv).UploadDate(context.Background(), "https://youtu.be/x")
	if err != nil || !ok || !got.Equal(time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected %v %v %v", got, ok, err)
	}
}

func TestUploadDateMissingMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()
	if _, _, err := testLookup(srv).UploadDate(context.Background(), "https://youtu.be/x"); err == nil {
		t.Fatalf("expected error for page without date")
	}
}

func TestLimiterSpacesRequests(t *testing.T) {
	l := New(nil)
	if l.Limiter.Limit() != rate.Every(Interval) || l.Limiter.Burst() != 1 {
		t.Fatalf("unexpected limiter %v/%d", l.Limiter.Limit(), l.Limiter.Burst())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Limiter.Wait(ctx); err != nil {
		t.Fatalf("first token should be immediate: %v", err)
	}
	if err := l.Limiter.Wait(ctx); err == nil {
		t.Fatalf("second request within the interval should wait past the deadline")
	}
}
