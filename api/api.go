// Package api implements the streaming host's catalog endpoints: search,
// paged episode release listings, and best-effort anime page metadata.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	levenshtein "github.com/ka-weihe/fast-levenshtein"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/log"
	"github.com/pahedl-app/pahedl/network"
)

// Client wraps the host client with catalog semantics.
type Client struct {
	host *network.Host
}

// NewClient constructs a catalog client over the given host.
func NewClient(host *network.Host) *Client {
	return &Client{host: host}
}

// SearchItem is one row of a search response.
type SearchItem struct {
	Session string `json:"session"`
	Title   string `json:"title"`
}

// Episode pairs an episode number with its opaque play session token.
type Episode struct {
	Number  int    `json:"number"`
	Session string `json:"session"`
}

type searchResponse struct {
	Data []SearchItem `json:"data"`
}

type releaseResponse struct {
	LastPage int              `json:"last_page"`
	Data     []releaseEpisode `json:"data"`
}

type releaseEpisode struct {
	Episode json.Number `json:"episode"`
	Session string      `json:"session"`
}

// Search queries the host for anime matching the given name.
func (c *Client) Search(ctx context.Context, name string) ([]SearchItem, error) {
	body, err := c.host.GetJSON(ctx, "/api", url.Values{
		"m": {"search"},
		"q": {name},
	})
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.New(errs.ParseError, "search response: %v", err)
	}
	return resp.Data, nil
}

// releasePage fetches one page of the release catalog sorted by ascending
// episode number.
func (c *Client) releasePage(ctx context.Context, slug string, page int) (*releaseResponse, error) {
	body, err := c.host.GetJSON(ctx, "/api", url.Values{
		"m":    {"release"},
		"id":   {slug},
		"sort": {"episode_asc"},
		"page": {fmt.Sprint(page)},
	})
	if err != nil {
		return nil, err
	}

	var resp releaseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.New(errs.ParseError, "release page %d: %v", page, err)
	}
	return &resp, nil
}

// Episodes materializes the complete episode catalog for a slug, iterating
// pages 1..last_page. Results come from the local catalog cache when fresh.
func (c *Client) Episodes(ctx context.Context, slug string) ([]Episode, error) {
	if cached, ok := readCatalog(slug); ok {
		log.Debugf("catalog cache hit for %s (%d episodes)", slug, len(cached))
		return cached, nil
	}

	first, err := c.releasePage(ctx, slug, 1)
	if err != nil {
		return nil, err
	}

	episodes := collectEpisodes(first.Data, nil)
	for page := 2; page <= first.LastPage; page++ {
		next, err := c.releasePage(ctx, slug, page)
		if err != nil {
			return nil, err
		}
		episodes = collectEpisodes(next.Data, episodes)
	}

	writeCatalog(slug, episodes)
	return episodes, nil
}

// collectEpisodes keeps whole-numbered episodes; recap entries with
// fractional numbers cannot be addressed by the engine's integer selectors.
func collectEpisodes(rows []releaseEpisode, into []Episode) []Episode {
	for _, row := range rows {
		n, err := row.Episode.Int64()
		if err != nil {
			log.Debugf("skipping non-integer episode %q", row.Episode)
			continue
		}
		into = append(into, Episode{Number: int(n), Session: row.Session})
	}
	return into
}

// ResolveAnimeName reads the anime page <title> for a display name, falling
// back to the caller's hint on any failure.
func (c *Client) ResolveAnimeName(ctx context.Context, slug, fallback string) string {
	body, err := c.host.GetHTML(ctx, c.host.URL("/anime/"+slug, nil))
	if err != nil {
		return fallback
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return fallback
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return fallback
	}
	// The host suffixes page titles with the site name.
	if idx := strings.Index(title, " :: "); idx > 0 {
		title = title[:idx]
	}
	return title
}

// FetchPoster returns the poster image URL from the anime page, or an empty
// string when none is present.
func (c *Client) FetchPoster(ctx context.Context, slug string) (string, error) {
	body, err := c.host.GetHTML(ctx, c.host.URL("/anime/"+slug, nil))
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", errs.Wrap(errs.ParseError, err)
	}

	img := doc.Find("div.anime-poster img").First()
	if src, ok := img.Attr("data-src"); ok && src != "" {
		return src, nil
	}
	if src, ok := img.Attr("src"); ok {
		return src, nil
	}
	return "", nil
}

// ClosestTitle picks the search result whose title has the smallest edit
// distance to the requested name. Used for non-interactive runs.
func ClosestTitle(items []SearchItem, name string) (SearchItem, bool) {
	if len(items) == 0 {
		return SearchItem{}, false
	}

	best := items[0]
	bestDistance := levenshtein.Distance(strings.ToLower(best.Title), strings.ToLower(name))
	for _, item := range items[1:] {
		d := levenshtein.Distance(strings.ToLower(item.Title), strings.ToLower(name))
		if d < bestDistance {
			best, bestDistance = item, d
		}
	}
	return best, true
}
