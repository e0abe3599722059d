package probe

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"herald/internal/types"
)

const (
	liveURLTemplate  = "https://www.youtube.com/channel/%s/live"
	watchURLTemplate = "https://www.youtube.com/watch?v=%s"
	defaultUserAgent = "Mozilla/5.0 (compatible; HeraldBot/1.0)"

	// Watch pages are large; everything we need sits well inside this.
	maxBodyBytes = 4 << 20
)

var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|/live/)([a-zA-Z0-9_-]{11})`)

// Markers that only appear in the player config of an actually-live watch
// page. A stale /live redirect lands on a page without them.
var liveMarkers = []string{
	`"islive":true`,
	`"islivenow":true`,
	`"islivebroadcast":true`,
	`"livebroadcastdetails"`,
	`hqdefault_live.jpg`,
}

// Prober checks whether a channel is currently broadcasting live. One
// instance is shared across the fan-out workers; it holds no per-probe
// state.
type Prober struct {
	head      *http.Client
	get       *http.Client
	userAgent string
	logger    *slog.Logger
	sanitize  *bluemonday.Policy

	// URL templates, overridable in tests.
	liveURL  string
	watchURL string
}

func NewProber(timeout time.Duration, userAgent string, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Prober{
		head: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		get:       &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
		sanitize:  bluemonday.StrictPolicy(),
		liveURL:   liveURLTemplate,
		watchURL:  watchURLTemplate,
	}
}

// Probe determines live status for a single channel. It never returns an
// error: every failure folds into a not-live observation with Err set, so
// one bad channel cannot abort its siblings.
func (p *Prober) Probe(ctx context.Context, channel types.ChannelTarget) types.Observation {
	start := time.Now()
	obs := p.probe(ctx, channel.ID)
	obs.Elapsed = time.Since(start)

	if obs.Err != nil {
		p.logger.Warn("live probe failed",
			"channel", channel.ID,
			"elapsed", obs.Elapsed,
			"error", obs.Err)
	}

	return obs
}

func (p *Prober) probe(ctx context.Context, channelID string) types.Observation {
	if channelID == "" {
		return types.Observation{Err: types.E(types.KindProbe, "probe", fmt.Errorf("no channel ID provided"))}
	}

	liveURL := fmt.Sprintf(p.liveURL, channelID)

	resp, err := p.request(ctx, p.head, http.MethodHead, liveURL)
	if err != nil {
		return types.Observation{Err: types.E(types.KindProbe, "head live url", err)}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if isRedirect(resp.StatusCode) {
		location := resp.Header.Get("Location")
		if location == "" {
			// Redirect with no target: treat as not live.
			return types.Observation{}
		}

		videoID := extractVideoID(location)
		if videoID != "" {
			// One content fetch confirms liveness and yields the title.
			return p.confirmBroadcast(ctx, videoID)
		}
	}

	// No redirect, or a redirect somewhere other than a watch page. Fall
	// back to fetching the live landing page and scanning its body.
	return p.probeLandingPage(ctx, liveURL)
}

// confirmBroadcast issues the single follow-up request to the watch page:
// it both verifies the page is a live broadcast (not a stale redirect) and
// extracts the title from the same response body.
func (p *Prober) confirmBroadcast(ctx context.Context, videoID string) types.Observation {
	watchURL := fmt.Sprintf(p.watchURL, videoID)

	resp, err := p.request(ctx, p.get, http.MethodGet, watchURL)
	if err != nil {
		return types.Observation{Err: types.E(types.KindProbe, "fetch watch page", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return types.Observation{Err: types.E(types.KindProbe, "read watch page", err)}
	}

	if !isLivePage(body) {
		return types.Observation{}
	}

	return types.Observation{
		Live:        true,
		BroadcastID: videoID,
		URL:         watchURL,
		Title:       p.extractTitle(body),
	}
}

func (p *Prober) probeLandingPage(ctx context.Context, liveURL string) types.Observation {
	resp, err := p.request(ctx, p.get, http.MethodGet, liveURL)
	if err != nil {
		return types.Observation{Err: types.E(types.KindProbe, "fetch live page", err)}
	}
	defer resp.Body.Close()

	videoID := ""
	if resp.Request != nil && resp.Request.URL != nil {
		videoID = extractVideoID(resp.Request.URL.String())
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return types.Observation{Err: types.E(types.KindProbe, "read live page", err)}
	}

	if videoID == "" {
		videoID = extractVideoID(string(body))
	}

	if videoID == "" || !isLivePage(body) {
		return types.Observation{}
	}

	return types.Observation{
		Live:        true,
		BroadcastID: videoID,
		URL:         fmt.Sprintf(p.watchURL, videoID),
		Title:       p.extractTitle(body),
	}
}

func (p *Prober) request(ctx context.Context, client *http.Client, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	return client.Do(req)
}

// extractTitle pulls the broadcast title out of a watch page body. An
// empty or whitespace title passes through as empty; substituting a
// placeholder is a presentation concern.
func (p *Prober) extractTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	title, ok := doc.Find(`meta[name="title"]`).Attr("content")
	if !ok || title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
	}
	if title == "" {
		title = strings.TrimSuffix(doc.Find("title").First().Text(), " - YouTube")
	}

	return strings.TrimSpace(html.UnescapeString(p.sanitize.Sanitize(title)))
}

func extractVideoID(raw string) string {
	if raw == "" {
		return ""
	}

	if m := videoIDPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}

	if strings.Contains(raw, "/watch?v=") {
		if u, err := url.Parse(raw); err == nil {
			if v := u.Query().Get("v"); v != "" {
				return v
			}
		}
	}

	return ""
}

func isLivePage(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, marker := range liveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
