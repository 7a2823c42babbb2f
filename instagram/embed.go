package instagram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"brokerage/models"
)

var postHosts = map[string]bool{
	"instagram.com":     true,
	"www.instagram.com": true,
}

var postPathPrefixes = []string{"/p/", "/reel/", "/tv/"}

// Embed builds a link preview for a public post from its OpenGraph tags.
func (c *Client) Embed(ctx context.Context, postURL string) (*models.InstagramEmbed, error) {
	u, err := c.checkPostURL(postURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; brokerage-site/1.0; +link-preview)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &GraphError{StatusCode: resp.StatusCode, Message: "post page unavailable"}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("parse post page: %w", err)
	}

	embed := &models.InstagramEmbed{
		URL:         metaContent(doc, "og:url"),
		Title:       metaContent(doc, "og:title"),
		Description: metaContent(doc, "og:description"),
		ImageURL:    metaContent(doc, "og:image"),
	}
	if embed.URL == "" {
		embed.URL = u.String()
	}
	if embed.Title == "" {
		embed.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return embed, nil
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q]`, property)).First()
	if sel.Length() == 0 {
		sel = doc.Find(fmt.Sprintf(`meta[name=%q]`, property)).First()
	}
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

func (c *Client) checkPostURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, ErrInvalidURL
	}
	hosts := c.postHosts
	if hosts == nil {
		hosts = postHosts
	}
	if !hosts[strings.ToLower(u.Host)] {
		return nil, ErrInvalidURL
	}
	if u.Scheme != "https" {
		return nil, ErrInvalidURL
	}
	ok := false
	for _, p := range postPathPrefixes {
		if strings.HasPrefix(u.Path, p) {
			ok = true
			break
		}
	}
	if !ok {
		return nil, ErrInvalidURL
	}
	u.RawQuery, u.Fragment = "", ""
	return u, nil
}
