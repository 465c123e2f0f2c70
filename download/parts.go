package download

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/hls"
	"github.com/pahedl-app/pahedl/log"
	"github.com/pahedl-app/pahedl/network"
	"github.com/spf13/afero"
)

// partsDirName is the scratch directory kept next to final outputs.
const partsDirName = ".parts"

// staleAge is how long cancelled or failed scratch survives before the next
// startup purges it.
const staleAge = 24 * time.Hour

// ScratchDir resolves the scratch directory for one episode inside the
// anime's output directory.
func ScratchDir(animeDir string, episode int) string {
	return filepath.Join(animeDir, partsDirName, strconv.Itoa(episode))
}

// ReusableParts cross-checks existing part files against the playlist and
// returns the set of segment indices that can be skipped on resume. A part
// qualifies when its size equals the server-reported length for that
// segment; everything else is refetched.
func ReusableParts(ctx context.Context, host *network.Host, playlist *hls.MediaPlaylist, workDir string) map[int]bool {
	fs := filesystem.API()
	skip := make(map[int]bool)

	// Decrypted parts cannot be length-checked against the wire size.
	if playlist.Encrypted() {
		return skip
	}

	for _, segment := range playlist.Segments {
		partPath := filepath.Join(workDir, strconv.Itoa(segment.Index)+".part")
		info, err := fs.Stat(partPath)
		if err != nil || info.Size() == 0 {
			continue
		}

		expected, err := host.ContentLength(ctx, segment.URI)
		if err != nil || expected < 0 {
			continue
		}
		if info.Size() == expected {
			skip[segment.Index] = true
		}
	}

	if len(skip) > 0 {
		log.Infof("resume: reusing %d of %d parts", len(skip), len(playlist.Segments))
	}
	return skip
}

// PurgeStaleScratch removes episode scratch directories older than 24 hours
// under every anime directory below root. Called once at startup.
func PurgeStaleScratch(root string) {
	fs := filesystem.API()

	animeDirs, err := afero.ReadDir(fs, root)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-staleAge)
	for _, animeDir := range animeDirs {
		if !animeDir.IsDir() {
			continue
		}
		partsRoot := filepath.Join(root, animeDir.Name(), partsDirName)
		episodes, err := afero.ReadDir(fs, partsRoot)
		if err != nil {
			continue
		}
		for _, episode := range episodes {
			if !episode.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(partsRoot, episode.Name())
			if err := fs.RemoveAll(path); err != nil {
				log.Warnf("purge scratch %s: %v", path, err)
			} else {
				log.Infof("purged stale scratch %s", path)
			}
		}
	}
}

// CleanupScratch removes an episode's scratch directory after a successful
// assembly, pruning the .parts root when it becomes empty.
func CleanupScratch(workDir string) {
	fs := filesystem.API()
	if err := fs.RemoveAll(workDir); err != nil {
		log.Warnf("cleanup scratch %s: %v", workDir, err)
		return
	}

	parent := filepath.Dir(workDir)
	if remaining, err := afero.ReadDir(fs, parent); err == nil && len(remaining) == 0 {
		_ = fs.Remove(parent)
	}
}

// EnsureDir creates a directory tree through the virtualized filesystem.
func EnsureDir(path string) error {
	return filesystem.API().MkdirAll(path, os.ModePerm)
}
