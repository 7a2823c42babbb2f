package mls

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

type FetchResult struct {
	Items     []json.RawMessage
	Pages     int
	Total     *int  // @odata.count from the first page, when requested
	Truncated bool  // page ceiling reached while a next link remained
	Err       error // page failure that stopped pagination
}

// Complete reports whether the feed was read to its end.
func (r *FetchResult) Complete() bool {
	return r.Err == nil && !r.Truncated
}

// FetchAll walks @odata.nextLink sequentially. maxPages <= 0 means no
// ceiling. A failing page stops the walk; what was collected is kept.
func (c *Client) FetchAll(ctx context.Context, resource string, q Query, maxPages int) *FetchResult {
	res := &FetchResult{}
	seen := make(map[string]bool)

	page, err := c.Get(ctx, resource, q)
	for {
		if err != nil {
			res.Err = fmt.Errorf("page %d: %w", res.Pages+1, err)
			log.Warn().Err(err).Int("pages", res.Pages).Int("items", len(res.Items)).Msg("MLS: pagination stopped")
			return res
		}

		res.Pages++
		res.Items = append(res.Items, page.Value...)
		if res.Pages == 1 {
			res.Total = page.Count
		}
		log.Debug().Int("page", res.Pages).Int("count", len(page.Value)).Int("total", len(res.Items)).Msg("MLS: fetched page")

		if page.NextLink == "" {
			return res
		}
		if maxPages > 0 && res.Pages >= maxPages {
			res.Truncated = true
			log.Info().Int("max_pages", maxPages).Int("items", len(res.Items)).Msg("MLS: page ceiling reached")
			return res
		}
		if seen[page.NextLink] {
			res.Err = fmt.Errorf("page %d: next link repeats %q", res.Pages+1, page.NextLink)
			return res
		}
		seen[page.NextLink] = true

		page, err = c.Next(ctx, page.NextLink)
	}
}
