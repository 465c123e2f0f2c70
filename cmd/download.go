package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/dustin/go-humanize"
	"github.com/pahedl-app/pahedl/api"
	"github.com/pahedl-app/pahedl/color"
	"github.com/pahedl-app/pahedl/config"
	"github.com/pahedl-app/pahedl/engine"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/key"
	"github.com/pahedl-app/pahedl/network"
	"github.com/pahedl-app/pahedl/state"
	"github.com/pahedl-app/pahedl/style"
	"github.com/pahedl-app/pahedl/where"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringP("slug", "s", "", "Anime slug (skips the interactive search)")
	downloadCmd.Flags().StringP("name", "n", "", "Anime name (searched when no slug is given)")
	downloadCmd.Flags().StringP("episodes", "e", "", "Episode selection, e.g. 1,3,5-8 (defaults to all)")
	downloadCmd.Flags().StringP("audio", "a", "", "Preferred audio tag")
	downloadCmd.Flags().StringP("resolution", "r", "", "Preferred resolution tag")
	downloadCmd.Flags().Bool("preview", false, "List source candidates instead of downloading")
	downloadCmd.Flags().Bool("first", false, "Pick the closest search match without prompting")

	lo.Must0(viper.BindPFlag(key.DownloadAudio, downloadCmd.Flags().Lookup("audio")))
	lo.Must0(viper.BindPFlag(key.DownloadResolution, downloadCmd.Flags().Lookup("resolution")))
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download episodes to disk",
	Example: `  pahedl download -n "sousou no frieren" -e 1-4 -r 1080
  pahedl download -s <slug> -e 3 --preview`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		hostURL := config.NormalizeHost(viper.GetString(key.HostURL))
		host := network.NewHost(hostURL)
		client := api.NewClient(host)

		slug := lo.Must(cmd.Flags().GetString("slug"))
		name := lo.Must(cmd.Flags().GetString("name"))
		if slug == "" {
			slug, name = pickAnime(ctx, client, name, lo.Must(cmd.Flags().GetBool("first")))
		}

		catalog, err := client.Episodes(ctx, slug)
		handleErr(err)
		if name == "" {
			name = client.ResolveAnimeName(ctx, slug, slug)
		}

		numbers, err := parseEpisodes(lo.Must(cmd.Flags().GetString("episodes")), catalog)
		handleErr(err)

		store, err := state.Open(where.StateFile())
		handleErr(err)
		eng := engine.New(store, newPrinter())

		if lo.Must(cmd.Flags().GetBool("preview")) {
			items, err := eng.PreviewSources(ctx, slug, hostURL, numbers, catalog)
			handleErr(err)
			printPreview(items)
			return
		}

		handleErr(eng.StartDownload(ctx, engine.Request{
			AnimeName:   name,
			Slug:        slug,
			Episodes:    numbers,
			Audio:       viper.GetString(key.DownloadAudio),
			Resolution:  viper.GetString(key.DownloadResolution),
			DownloadDir: downloadDir(),
			Host:        hostURL,
		}))
	},
}

// pickAnime searches by name and selects one result: the closest title in
// non-interactive mode, a survey prompt otherwise.
func pickAnime(ctx context.Context, client *api.Client, name string, first bool) (slug, title string) {
	if name == "" {
		handleErr(survey.AskOne(&survey.Input{Message: "Anime name:"}, &name, survey.WithValidator(survey.Required)))
	}

	items, err := client.Search(ctx, name)
	handleErr(err)
	if len(items) == 0 {
		handleErr(errs.New(errs.EpisodeNotFound, "no results for %q", name))
	}

	if first {
		best, _ := api.ClosestTitle(items, name)
		return best.Session, best.Title
	}

	titles := lo.Map(items, func(item api.SearchItem, _ int) string { return item.Title })
	var picked string
	handleErr(survey.AskOne(&survey.Select{
		Message:  "Select an anime:",
		Options:  titles,
		PageSize: 15,
	}, &picked))

	item, _ := lo.Find(items, func(item api.SearchItem) bool { return item.Title == picked })
	return item.Session, item.Title
}

// parseEpisodes expands a selection string like "1,3,5-8" against the
// catalog; an empty selection means every episode.
func parseEpisodes(selection string, catalog []api.Episode) ([]int, error) {
	if strings.TrimSpace(selection) == "" {
		return lo.Map(catalog, func(e api.Episode, _ int) int { return e.Number }), nil
	}

	var out []int
	for _, token := range strings.Split(selection, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if lowStr, highStr, ok := strings.Cut(token, "-"); ok {
			low, err1 := strconv.Atoi(strings.TrimSpace(lowStr))
			high, err2 := strconv.Atoi(strings.TrimSpace(highStr))
			if err1 != nil || err2 != nil || low > high || low < 1 {
				return nil, fmt.Errorf("bad episode range %q", token)
			}
			for n := low; n <= high; n++ {
				out = append(out, n)
			}
			continue
		}

		n, err := strconv.Atoi(token)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("bad episode number %q", token)
		}
		out = append(out, n)
	}
	return lo.Uniq(out), nil
}

func printPreview(items []engine.PreviewItem) {
	for _, item := range items {
		fmt.Printf("%s\n", style.Bold(fmt.Sprintf("Episode %d", item.Episode)))
		for _, source := range item.Sources {
			tags := []string{}
			if source.Resolution != "" {
				tags = append(tags, source.Resolution+"p")
			}
			if source.Audio != "" {
				tags = append(tags, source.Audio)
			}
			if source.AV1 {
				tags = append(tags, "av1")
			}
			fmt.Printf("  %-18s %s\n", strings.Join(tags, " "), style.Faint(source.Src))
		}
	}
}

// printer renders engine events on a terminal, overwriting one progress line
// per episode.
type printer struct {
	lineOpen bool
}

func newPrinter() *printer {
	return &printer{}
}

func (p *printer) Status(e engine.StatusEvent) {
	p.closeLine()
	line := fmt.Sprintf("episode %d: %s", e.Episode, e.Status)
	switch {
	case e.Status == engine.StatusDone:
		fmt.Printf("%s %s\n", style.Fg(color.Green)(line), style.Faint(e.Path))
	case strings.HasPrefix(e.Status, "failed"), e.Status == engine.CancelledStatus:
		fmt.Println(style.Fg(color.Red)(line))
	default:
		fmt.Println(style.Faint(line))
	}
}

func (p *printer) Progress(e engine.ProgressEvent) {
	fmt.Printf("\r  %d/%d segments  %s/s  %ds elapsed   ",
		e.Done, e.Total, humanize.IBytes(uint64(e.SpeedBPS)), e.ElapsedSeconds)
	p.lineOpen = true
}

func (p *printer) Completed(e engine.CompletionEvent) {
	p.closeLine()
	if e.Success {
		fmt.Printf("%s %s (%s)\n", style.Bold("saved"), e.FilePath, humanize.IBytes(uint64(e.FileSize)))
	}
}

func (p *printer) closeLine() {
	if p.lineOpen {
		fmt.Println()
		p.lineOpen = false
	}
}
