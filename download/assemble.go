package download

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/log"
)

// stderrTailLines bounds how much muxer output is kept for error reports.
const stderrTailLines = 8

// termGrace is how long a cancelled muxer gets to exit before being killed.
const termGrace = 3 * time.Second

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)
	timePattern     = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)
)

// Assembler drives the external muxer to concatenate decrypted parts into
// the final container without re-encoding.
type Assembler struct {
	ffmpegPath string
}

// NewAssembler constructs an assembler around a resolved muxer binary.
func NewAssembler(ffmpegPath string) *Assembler {
	return &Assembler{ffmpegPath: ffmpegPath}
}

// Progress reports the muxer's position within the output stream. Total is
// zero until a Duration line is observed or supplied by the playlist.
type Progress struct {
	Current time.Duration
	Total   time.Duration
}

// Concat writes a concat manifest for the parts in order and runs the muxer
// in copy mode. The manifest lives next to the parts and is removed with
// them. Muxer stderr is sampled for time= tokens feeding the progress
// callback; on a non-zero exit the stderr tail becomes the error.
func (a *Assembler) Concat(ctx context.Context, parts []string, outPath string, knownDuration time.Duration, progress func(Progress)) error {
	if len(parts) == 0 {
		return errs.New(errs.AssemblyError, "no parts to assemble")
	}

	manifest := filepath.Join(filepath.Dir(parts[0]), "concat.list")
	if err := filesystem.API().WriteFile(manifest, []byte(BuildManifest(parts)), 0644); err != nil {
		return errs.Wrap(errs.AssemblyError, err)
	}

	cmd := exec.CommandContext(ctx, a.ffmpegPath,
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		"-y", outPath,
	)
	// Give the muxer a graceful stop before the hard kill on cancellation.
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = termGrace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errs.Wrap(errs.AssemblyError, err)
	}
	if err := cmd.Start(); err != nil {
		return errs.Wrap(errs.AssemblyError, err)
	}

	total := knownDuration
	var tail []string

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}

		if total == 0 {
			if d, ok := matchClock(durationPattern, line); ok {
				total = d
			}
		}
		if current, ok := matchClock(timePattern, line); ok {
			if current > total {
				total = current
			}
			if progress != nil {
				progress(Progress{Current: current, Total: total})
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.Cancelled, ctx.Err())
		}
		return errs.New(errs.AssemblyError, "muxer exit: %v: %s", err, strings.Join(tail, " | "))
	}

	if progress != nil && total > 0 {
		progress(Progress{Current: total, Total: total})
	}
	log.Infof("assembled %s from %d parts", outPath, len(parts))
	return nil
}

// BuildManifest renders the concat demuxer input: one quoted line per part,
// in playlist order.
func BuildManifest(parts []string) string {
	var b strings.Builder
	for _, part := range parts {
		escaped := strings.ReplaceAll(part, `'`, `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}

// matchClock parses an HH:MM:SS.mmm token captured by the pattern.
func matchClock(pattern *regexp.Regexp, line string) (time.Duration, bool) {
	match := pattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}

	hours, err1 := strconv.Atoi(match[1])
	minutes, err2 := strconv.Atoi(match[2])
	seconds, err3 := strconv.ParseFloat(match[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}

	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}
