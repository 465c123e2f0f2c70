package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/hls"
	"github.com/pahedl-app/pahedl/log"
	"github.com/pahedl-app/pahedl/network"
	"golang.org/x/sync/errgroup"
)

// Width bounds for the segment worker pool.
const (
	MinWorkers     = 2
	MaxWorkers     = 64
	DefaultWorkers = 10
)

// Pool downloads a playlist's segments with bounded parallelism, decrypting
// each one and writing it to the episode's scratch directory.
type Pool struct {
	host      *network.Host
	decryptor *hls.Decryptor
	workDir   string
	width     int
}

// NewPool constructs a pool writing parts under workDir with the given
// concurrency width.
func NewPool(host *network.Host, workDir string, width int) *Pool {
	if width < 1 {
		width = DefaultWorkers
	}
	return &Pool{
		host:      host,
		decryptor: hls.NewDecryptor(host),
		workDir:   workDir,
		width:     width,
	}
}

// PartPath returns the scratch file for one segment index.
func (p *Pool) PartPath(index int) string {
	return filepath.Join(p.workDir, fmt.Sprintf("%d.part", index))
}

// Run fetches every segment of the playlist, skipping indices whose part
// files were already validated by resume. It returns the part paths in
// playlist order regardless of completion order. Worker errors cancel the
// remaining fetches; the first error is returned.
func (p *Pool) Run(ctx context.Context, playlist *hls.MediaPlaylist, tracker *Tracker, skip map[int]bool) ([]string, error) {
	fs := filesystem.API()
	if err := fs.MkdirAll(p.workDir, os.ModePerm); err != nil {
		return nil, errs.Wrap(errs.AssemblyError, err)
	}

	parts := make([]string, len(playlist.Segments))
	for _, segment := range playlist.Segments {
		parts[segment.Index] = p.PartPath(segment.Index)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.width)

	for _, segment := range playlist.Segments {
		if skip[segment.Index] {
			if info, err := fs.Stat(parts[segment.Index]); err == nil {
				tracker.CompleteSegment(info.Size())
			}
			continue
		}

		group.Go(func() error {
			return p.fetchSegment(groupCtx, playlist, segment, parts[segment.Index], tracker)
		})
	}

	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.Cancelled, ctx.Err())
		}
		return nil, err
	}
	return parts, nil
}

// fetchSegment runs the per-segment pipeline: fetch, decrypt, write, publish.
func (p *Pool) fetchSegment(ctx context.Context, playlist *hls.MediaPlaylist, segment hls.SegmentRef, partPath string, tracker *Tracker) error {
	data, _, err := p.host.GetBytes(ctx, segment.URI, "")
	if err != nil {
		return err
	}

	if key, ok := playlist.Key.Get(); ok {
		data, err = p.decryptor.DecryptSegment(ctx, data, key, segment.Index)
		if err != nil {
			return err
		}
	}

	if err := filesystem.API().WriteFile(partPath, data, 0644); err != nil {
		return errs.Wrap(errs.AssemblyError, err)
	}

	log.Debugf("segment %d done (%d bytes)", segment.Index, len(data))
	tracker.CompleteSegment(int64(len(data)))
	return nil
}
