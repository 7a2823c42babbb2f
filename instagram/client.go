package instagram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"brokerage/metrics"
	"brokerage/models"
)

var (
	ErrNotConfigured    = errors.New("instagram: not configured")
	ErrInvalidURL       = errors.New("instagram: not an instagram post url")
	ErrInvalidSignature = errors.New("instagram: invalid signed request")
)

const mediaFields = "id,caption,media_type,media_url,thumbnail_url,permalink,timestamp"

// Graph timestamps look like 2024-05-01T17:03:11+0000.
const graphTimeLayout = "2006-01-02T15:04:05-0700"

type Config struct {
	GraphURL    string
	OAuthURL    string
	AccessToken string
	AppID       string
	AppSecret   string
	RedirectURI string
	CacheTTL    time.Duration
	FeedLimit   int
	// StatusURL is returned by the data-deletion callback
	StatusURL string
}

// GraphError is a non-2xx answer from the Graph or OAuth endpoints.
type GraphError struct {
	StatusCode int
	Message    string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("instagram: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	cfg   Config
	http  *http.Client
	cache Cache // optional

	postHosts map[string]bool // overrides the instagram.com allowlist
}

func NewClient(cfg Config, httpClient *http.Client, cache Cache) *Client {
	if cfg.FeedLimit <= 0 {
		cfg.FeedLimit = 12
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Client{cfg: cfg, http: httpClient, cache: cache}
}

type graphMedia struct {
	ID           string `json:"id"`
	Caption      string `json:"caption"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Permalink    string `json:"permalink"`
	Timestamp    string `json:"timestamp"`
}

// Feed returns the account's most recent media, newest first.
func (c *Client) Feed(ctx context.Context, limit int) ([]models.InstagramMedia, error) {
	if c.cfg.AccessToken == "" {
		return nil, ErrNotConfigured
	}
	if limit <= 0 || limit > 50 {
		limit = c.cfg.FeedLimit
	}

	key := "instagram:feed:" + strconv.Itoa(limit)
	if media, ok := c.cached(ctx, key); ok {
		return media, nil
	}

	q := url.Values{}
	q.Set("fields", mediaFields)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("access_token", c.cfg.AccessToken)
	endpoint := strings.TrimRight(c.cfg.GraphURL, "/") + "/me/media?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Data []graphMedia `json:"data"`
	}
	if err := c.doJSON(req, &body); err != nil {
		return nil, err
	}

	media := make([]models.InstagramMedia, 0, len(body.Data))
	for _, m := range body.Data {
		media = append(media, models.InstagramMedia{
			ID:           m.ID,
			Caption:      m.Caption,
			MediaType:    m.MediaType,
			MediaURL:     m.MediaURL,
			ThumbnailURL: m.ThumbnailURL,
			Permalink:    m.Permalink,
			Timestamp:    parseGraphTime(m.Timestamp),
		})
	}

	c.store(ctx, key, media)
	return media, nil
}

func (c *Client) cached(ctx context.Context, key string) ([]models.InstagramMedia, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		metrics.InstagramCache.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("Instagram: cache read failed, fetching live")
		return nil, false
	}
	if !ok {
		metrics.InstagramCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	var media []models.InstagramMedia
	if err := json.Unmarshal(raw, &media); err != nil {
		metrics.InstagramCache.WithLabelValues("error").Inc()
		return nil, false
	}
	metrics.InstagramCache.WithLabelValues("hit").Inc()
	return media, true
}

func (c *Client) store(ctx context.Context, key string, media []models.InstagramMedia) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(media)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cfg.CacheTTL); err != nil {
		log.Warn().Err(err).Msg("Instagram: cache write failed")
	}
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("instagram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read instagram response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GraphError{StatusCode: resp.StatusCode, Message: graphMessage(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode instagram response: %w", err)
	}
	return nil
}

// graphMessage pulls the message out of either error shape the API uses.
func graphMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		ErrorMessage string `json:"error_message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error.Message != "" {
			return e.Error.Message
		}
		if e.ErrorMessage != "" {
			return e.ErrorMessage
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func parseGraphTime(s string) time.Time {
	for _, layout := range []string{graphTimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
