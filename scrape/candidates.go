// Package scrape turns an episode play page into a resolved media playlist
// URL: candidate extraction, preference-driven selection, and deobfuscation
// of the provider's packed dispatcher script.
package scrape

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/jsvm"
	"github.com/pahedl-app/pahedl/network"
)

// Candidate is one user-selectable source row on the play page.
type Candidate struct {
	Src        string `json:"src"`
	Audio      string `json:"audio,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	AV1        bool   `json:"av1"`
}

// ResolvedSource pairs the chosen candidate with its recovered playlist URL.
type ResolvedSource struct {
	Candidate   Candidate
	PlaylistURL string
}

// Scraper drives play-page and landing-page extraction through the shared
// host client and the JS sandbox.
type Scraper struct {
	host *network.Host
	vm   *jsvm.Evaluator
}

// New constructs a scraper for the given host.
func New(host *network.Host) *Scraper {
	return &Scraper{host: host, vm: jsvm.New()}
}

// Candidates fetches a play page and decodes every source row. Rows appear
// as <button> or <option> elements carrying data-src and quality attributes.
func (s *Scraper) Candidates(ctx context.Context, playURL string) ([]Candidate, error) {
	body, err := s.host.GetHTML(ctx, playURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err)
	}

	var out []Candidate
	doc.Find("button[data-src], option[data-src]").Each(func(_ int, el *goquery.Selection) {
		src, _ := el.Attr("data-src")
		if src == "" {
			return
		}
		audio, _ := el.Attr("data-audio")
		resolution, _ := el.Attr("data-resolution")
		av1, _ := el.Attr("data-av1")
		out = append(out, Candidate{
			Src:        src,
			Audio:      audio,
			Resolution: resolution,
			AV1:        av1 == "1",
		})
	})

	if len(out) == 0 {
		return nil, errs.New(errs.ParseError, "no source rows on play page")
	}
	return out, nil
}
