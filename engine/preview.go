package engine

import (
	"context"
	"fmt"

	"github.com/pahedl-app/pahedl/api"
	"github.com/pahedl-app/pahedl/config"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/network"
	"github.com/pahedl-app/pahedl/scrape"
)

// PreviewItem lists the selectable sources for one episode.
type PreviewItem struct {
	Episode int                `json:"episode"`
	Sources []scrape.Candidate `json:"sources"`
}

// PreviewSources resolves candidate lists for the requested episodes without
// downloading anything. A cached session list skips the catalog fetch.
func (e *Engine) PreviewSources(ctx context.Context, slug, hostURL string, episodes []int, cached []api.Episode) ([]PreviewItem, error) {
	host := network.NewHost(config.NormalizeHost(hostURL), e.hostOpts...)

	sessions := make(map[int]string, len(cached))
	for _, episode := range cached {
		sessions[episode.Number] = episode.Session
	}
	if len(sessions) == 0 {
		catalog, err := api.NewClient(host).Episodes(ctx, slug)
		if err != nil {
			return nil, err
		}
		for _, episode := range catalog {
			sessions[episode.Number] = episode.Session
		}
	}

	scraper := scrape.New(host)
	items := make([]PreviewItem, 0, len(episodes))
	for _, number := range episodes {
		session, ok := sessions[number]
		if !ok {
			return nil, errs.New(errs.EpisodeNotFound, "episode %d is not in the catalog", number)
		}

		playURL := fmt.Sprintf("%s/play/%s/%s", host.Base(), slug, session)
		candidates, err := scraper.Candidates(ctx, playURL)
		if err != nil {
			return nil, err
		}
		items = append(items, PreviewItem{Episode: number, Sources: candidates})
	}
	return items, nil
}
