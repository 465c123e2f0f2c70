package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pahedl-app/pahedl/api"
	"github.com/pahedl-app/pahedl/config"
	"github.com/pahedl-app/pahedl/download"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/key"
	"github.com/pahedl-app/pahedl/log"
	"github.com/pahedl-app/pahedl/network"
	"github.com/pahedl-app/pahedl/state"
	"github.com/pahedl-app/pahedl/util"
	"github.com/spf13/viper"
)

// Request describes one batch of episodes to download.
type Request struct {
	AnimeName   string
	Slug        string
	Episodes    []int
	Audio       string
	Resolution  string
	DownloadDir string
	Host        string

	// ResumeID reopens an existing record instead of creating one; set by Resume.
	ResumeID string
}

// Engine owns the download pipeline: it serializes episodes, parallelizes
// segments within an episode, and keeps the state store consistent with
// what it emits.
type Engine struct {
	store    *state.Store
	events   Events
	hostOpts []network.Option

	mu     sync.Mutex
	active map[int]context.CancelFunc
}

// Option customizes an Engine.
type Option func(*Engine)

// WithHostOptions forwards options to every host client the engine builds;
// used by tests to shrink retry backoff.
func WithHostOptions(opts ...network.Option) Option {
	return func(e *Engine) { e.hostOpts = opts }
}

// New constructs an engine over the given store, emitting to events.
func New(store *state.Store, events Events, opts ...Option) *Engine {
	if events == nil {
		events = NopEvents{}
	}
	e := &Engine{
		store:  store,
		events: events,
		active: make(map[int]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the engine's state store for maintenance commands.
func (e *Engine) Store() *state.Store {
	return e.store
}

// StartDownload runs a request's episodes sequentially, in increasing
// episode order. The muxer is probed before any network request; a missing
// binary fails the whole batch immediately. Episode numbers absent from the
// catalog are reported and skipped while their siblings proceed. Per-episode
// failures land in the state store and the event stream, not in the return
// value.
func (e *Engine) StartDownload(ctx context.Context, req Request) error {
	ffmpegPath, err := download.ResolveFFmpeg()
	if err != nil {
		return err
	}

	host := network.NewHost(config.NormalizeHost(req.Host), e.hostOpts...)
	catalog, err := api.NewClient(host).Episodes(ctx, req.Slug)
	if err != nil {
		return err
	}

	sessions := make(map[int]string, len(catalog))
	for _, episode := range catalog {
		sessions[episode.Number] = episode.Session
	}

	numbers := append([]int(nil), req.Episodes...)
	sort.Ints(numbers)

	for _, number := range numbers {
		session, ok := sessions[number]
		if !ok {
			err := errs.New(errs.EpisodeNotFound, "episode %d is not in the catalog", number)
			log.Warn(err)
			e.events.Status(StatusEvent{Episode: number, Status: FailureStatus(err.Error())})
			continue
		}
		e.runEpisode(ctx, host, ffmpegPath, req, number, session)
	}
	return nil
}

// CancelDownload aborts the active job for an episode. In-flight segment
// fetches stop at their next suspension point and part files stay on disk.
func (e *Engine) CancelDownload(episode int) error {
	e.mu.Lock()
	cancel, ok := e.active[episode]
	e.mu.Unlock()

	if !ok {
		return errs.New(errs.EpisodeNotFound, "episode %d has no active download", episode)
	}
	cancel()
	return nil
}

// Resume reopens a stored record and reruns its episode. The cached playlist
// URL is tried first; scraping runs again when the link has gone stale.
func (e *Engine) Resume(ctx context.Context, id string) error {
	record, ok := e.store.Get(id)
	if !ok {
		return errs.New(errs.EpisodeNotFound, "no record %q", id)
	}
	if err := e.store.Reopen(id); err != nil {
		return err
	}

	req := Request{
		AnimeName:   record.AnimeName,
		Slug:        record.Slug,
		Episodes:    []int{record.Episode},
		DownloadDir: filepath.Dir(filepath.Dir(record.FilePath)),
		Host:        viper.GetString(key.HostURL),
		ResumeID:    id,
	}
	if record.AudioType != nil {
		req.Audio = *record.AudioType
	}
	if record.Resolution != nil {
		req.Resolution = *record.Resolution
	}
	return e.StartDownload(ctx, req)
}

// register tracks the cancel function for an active episode, enforcing at
// most one job per episode number.
func (e *Engine) register(episode int, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.active[episode]; exists {
		return false
	}
	e.active[episode] = cancel
	return true
}

func (e *Engine) unregister(episode int) {
	e.mu.Lock()
	delete(e.active, episode)
	e.mu.Unlock()
}

// Workers reads the configured pool width, clamped to the supported range.
func Workers() int {
	return util.Clamp(viper.GetInt(key.DownloadWorkers), download.MinWorkers, download.MaxWorkers)
}

// progressInterval reads the configured event cadence.
func progressInterval() time.Duration {
	ms := viper.GetInt(key.ProgressIntervalMs)
	if ms <= 0 {
		ms = 250
	}
	return time.Duration(ms) * time.Millisecond
}

// outputPath composes the final file location:
// <download_dir>/<sanitized>/<sanitized> - <episode>.mp4.
func outputPath(downloadDir, animeName string, episode int) (animeDir, filePath string) {
	sanitized := util.SanitizeFilename(animeName)
	animeDir = filepath.Join(downloadDir, sanitized)
	filePath = filepath.Join(animeDir, fmt.Sprintf("%s - %d.mp4", sanitized, episode))
	return animeDir, filePath
}
