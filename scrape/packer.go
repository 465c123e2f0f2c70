package scrape

import (
	"context"
	"regexp"
	"strings"

	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/jsvm"
	"github.com/pahedl-app/pahedl/log"
)

// packedScriptPattern locates the obfuscated dispatcher on a candidate
// landing page. The provider ships it packer-style: eval(function(p,a,c,k,e,d)…).
var packedScriptPattern = regexp.MustCompile(`(?s)<script>eval\(.*?</script>`)

// Resolve fetches the candidate's landing page, unpacks its dispatcher
// script in the sandbox, and recovers the media playlist URL.
func (s *Scraper) Resolve(ctx context.Context, candidate Candidate) (*ResolvedSource, error) {
	body, err := s.host.GetHTML(ctx, candidate.Src)
	if err != nil {
		return nil, err
	}

	script, err := extractPackedScript(string(body))
	if err != nil {
		return nil, err
	}

	output, err := s.vm.Run(transformPacked(script))
	if err != nil {
		return nil, err
	}

	playlistURL, err := jsvm.ExtractMediaURL(output)
	if err != nil {
		log.Debugf("unpacked dispatcher output: %s", output)
		return nil, err
	}

	return &ResolvedSource{Candidate: candidate, PlaylistURL: playlistURL}, nil
}

// extractPackedScript cuts the packed <script> block out of the landing page.
func extractPackedScript(html string) (string, error) {
	match := packedScriptPattern.FindString(html)
	if match == "" {
		return "", errs.New(errs.DeobfuscationError, "no packed script on landing page")
	}

	script := strings.TrimPrefix(match, "<script>")
	script = strings.TrimSuffix(script, "</script>")
	return script, nil
}

// transformPacked rewrites the dispatcher so its unpacking pass prints the
// decoded player code instead of executing it: the outer eval becomes
// console.log, and DOM references are pointed at inert stubs.
func transformPacked(script string) string {
	script = strings.ReplaceAll(script, "document", "process")
	script = strings.ReplaceAll(script, "querySelector", "exit")
	script = strings.ReplaceAll(script, "eval(", "console.log(")
	return script
}
