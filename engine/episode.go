package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pahedl-app/pahedl/download"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/hls"
	"github.com/pahedl-app/pahedl/log"
	"github.com/pahedl-app/pahedl/network"
	"github.com/pahedl-app/pahedl/scrape"
)

// runEpisode drives one episode through the state machine:
// Queued → Resolving → Extracting → Downloading → Assembling → terminal.
func (e *Engine) runEpisode(ctx context.Context, host *network.Host, ffmpegPath string, req Request, episode int, session string) {
	epCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !e.register(episode, cancel) {
		log.Warnf("episode %d already has an active download", episode)
		e.events.Status(StatusEvent{Episode: episode, Status: FailureStatus("episode already downloading")})
		return
	}
	defer e.unregister(episode)

	e.events.Status(StatusEvent{Episode: episode, Status: StatusFetchingLink})

	animeDir, filePath := outputPath(req.DownloadDir, req.AnimeName, episode)

	recordID := req.ResumeID
	if recordID != "" {
		if record, ok := e.store.Get(recordID); ok {
			filePath = record.FilePath
			animeDir = filepath.Dir(filePath)
		}
	} else {
		// An InProgress record always points into an existing directory.
		if err := download.EnsureDir(animeDir); err != nil {
			e.fail(episode, req.AnimeName, "", errs.Wrap(errs.AssemblyError, err))
			return
		}
		id, err := e.store.Add(req.AnimeName, req.Slug, episode, filePath, req.Audio, req.Resolution)
		if err != nil {
			e.fail(episode, req.AnimeName, "", errs.Wrap(errs.AssemblyError, err))
			return
		}
		recordID = id
	}

	finalPath, err := e.pipeline(epCtx, host, ffmpegPath, req, episode, session, recordID, animeDir, filePath)
	if err != nil {
		e.fail(episode, req.AnimeName, recordID, err)
		return
	}

	var size int64
	if info, err := filesystem.API().Stat(finalPath); err == nil {
		size = info.Size()
		// Progress was counted in segments; settle the record on the final
		// file's byte size, which Validate checks a completed record against.
		if err := e.store.UpdateProgress(recordID, size, &size); err != nil {
			log.Warnf("update progress %s: %v", recordID, err)
		}
	}

	if err := e.store.MarkCompleted(recordID); err != nil {
		log.Errorf("mark completed %s: %v", recordID, err)
	}
	e.events.Status(StatusEvent{Episode: episode, Status: StatusDone, Path: finalPath})

	e.events.Completed(CompletionEvent{
		AnimeName: req.AnimeName,
		Episode:   episode,
		FilePath:  finalPath,
		FileSize:  size,
		Success:   true,
	})
}

// pipeline performs the fallible stages of one episode job and returns the
// final file path.
func (e *Engine) pipeline(ctx context.Context, host *network.Host, ffmpegPath string, req Request, episode int, session, recordID, animeDir, filePath string) (string, error) {
	scraper := scrape.New(host)

	// Resolving: recover the playlist URL, preferring the cached one on resume.
	playlistURL, err := e.resolveSource(ctx, host, scraper, req, session, recordID)
	if err != nil {
		return "", err
	}

	// Extracting: fetch and parse the media playlist.
	e.events.Status(StatusEvent{Episode: episode, Status: StatusExtracting})
	body, _, err := host.GetBytes(ctx, playlistURL, "")
	if err != nil {
		return "", err
	}
	playlist, err := hls.Parse(body, playlistURL)
	if err != nil {
		return "", err
	}

	// Downloading: fan segments out over the bounded pool.
	e.events.Status(StatusEvent{Episode: episode, Status: StatusDownloading})
	if err := download.EnsureDir(animeDir); err != nil {
		return "", errs.Wrap(errs.AssemblyError, err)
	}

	workDir := download.ScratchDir(animeDir, episode)
	var skip map[int]bool
	if req.ResumeID != "" {
		skip = download.ReusableParts(ctx, host, playlist, workDir)
	}

	total := int64(len(playlist.Segments))
	tracker := download.NewTracker(total)
	stopPump := e.startProgressPump(ctx, episode, recordID, total, tracker)

	pool := download.NewPool(host, workDir, Workers())
	parts, err := pool.Run(ctx, playlist, tracker, skip)
	stopPump()
	if err != nil {
		return "", err
	}
	e.publishProgress(episode, recordID, total, tracker)

	// Assembling: concatenate the decrypted parts via the muxer.
	e.events.Status(StatusEvent{Episode: episode, Status: StatusAssembling})
	var knownDuration time.Duration
	if seconds, ok := playlist.TotalDuration.Get(); ok {
		knownDuration = time.Duration(seconds * float64(time.Second))
	}

	assembler := download.NewAssembler(ffmpegPath)
	err = assembler.Concat(ctx, parts, filePath, knownDuration, func(p download.Progress) {
		// Assembly keeps the job's segment unit; muxer time= samples are
		// observability only.
		if p.Total > 0 {
			log.Debugf("episode %d muxing %.0f%%", episode, 100*p.Current.Seconds()/p.Total.Seconds())
		}
	})
	if err != nil {
		return "", err
	}

	download.CleanupScratch(workDir)
	return filePath, nil
}

// resolveSource yields the playlist URL for an episode: the record's cached
// URL when resuming and still valid, otherwise the full scrape-select-unpack
// chain. The fresh URL is cached on the record for the next resume.
func (e *Engine) resolveSource(ctx context.Context, host *network.Host, scraper *scrape.Scraper, req Request, session, recordID string) (string, error) {
	if req.ResumeID != "" {
		if record, ok := e.store.Get(recordID); ok && record.SourceURL != "" {
			if _, _, err := host.GetBytes(ctx, record.SourceURL, ""); err == nil {
				log.Infof("resume: cached playlist URL still valid for %s", recordID)
				return record.SourceURL, nil
			}
			log.Infof("resume: cached playlist URL stale for %s, re-scraping", recordID)
		}
	}

	playURL := fmt.Sprintf("%s/play/%s/%s", host.Base(), req.Slug, session)
	candidates, err := scraper.Candidates(ctx, playURL)
	if err != nil {
		return "", err
	}

	candidate, ok := scrape.Select(candidates, req.Audio, req.Resolution)
	if !ok {
		return "", errs.New(errs.ParseError, "no matching source")
	}

	resolved, err := scraper.Resolve(ctx, candidate)
	if err != nil {
		return "", err
	}

	if err := e.store.SetSourceURL(recordID, resolved.PlaylistURL); err != nil {
		log.Warnf("cache playlist URL: %v", err)
	}
	return resolved.PlaylistURL, nil
}

// startProgressPump emits progress on the configured cadence until stopped.
// The returned stop function blocks until the pump exits, so no progress
// event can trail the next status emission.
func (e *Engine) startProgressPump(ctx context.Context, episode int, recordID string, total int64, tracker *download.Tracker) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval())
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.publishProgress(episode, recordID, total, tracker)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// publishProgress forwards one snapshot to the store and the event stream.
func (e *Engine) publishProgress(episode int, recordID string, total int64, tracker *download.Tracker) {
	snapshot := tracker.Snapshot()
	if err := e.store.UpdateProgress(recordID, snapshot.Done, &total); err != nil {
		log.Warnf("update progress %s: %v", recordID, err)
	}
	e.events.Progress(ProgressEvent{
		Episode:        episode,
		Done:           snapshot.Done,
		Total:          snapshot.Total,
		SpeedBPS:       snapshot.SpeedBPS,
		ElapsedSeconds: int64(snapshot.Elapsed.Seconds()),
	})
}

// fail finalizes a job after an error, classifying cancellation separately.
// Exactly one terminal event is emitted per job.
func (e *Engine) fail(episode int, animeName, recordID string, err error) {
	if errs.Is(err, errs.Cancelled) {
		log.Infof("episode %d cancelled", episode)
		if recordID != "" {
			if storeErr := e.store.MarkCancelled(recordID); storeErr != nil {
				log.Errorf("mark cancelled %s: %v", recordID, storeErr)
			}
		}
		e.events.Status(StatusEvent{Episode: episode, Status: CancelledStatus})
		return
	}

	log.Errorf("episode %d failed: %v", episode, err)
	if recordID != "" {
		if storeErr := e.store.MarkFailed(recordID, err.Error()); storeErr != nil {
			log.Errorf("mark failed %s: %v", recordID, storeErr)
		}
	}
	e.events.Status(StatusEvent{Episode: episode, Status: FailureStatus(err.Error())})
	e.events.Completed(CompletionEvent{AnimeName: animeName, Episode: episode, Success: false})
}
