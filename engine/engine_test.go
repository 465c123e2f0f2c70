package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pahedl-app/pahedl/download"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/key"
	"github.com/pahedl-app/pahedl/network"
	"github.com/pahedl-app/pahedl/state"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"
)

func init() {
	filesystem.SetOsFs()
	viper.Set(key.DownloadWorkers, 4)
	viper.Set(key.ProgressIntervalMs, 10)
}

// recorder captures engine emissions for trace assertions.
type recorder struct {
	mu          sync.Mutex
	statuses    []StatusEvent
	progress    []ProgressEvent
	completions []CompletionEvent
}

func (r *recorder) Status(e StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, e)
}

func (r *recorder) Progress(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, e)
}

func (r *recorder) Completed(e CompletionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, e)
}

func (r *recorder) statusTrace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.Status
	}
	return out
}

// upstream is a fake streaming host serving catalog, play page, landing page,
// playlist and segments for one episode with the given number of segments.
type upstream struct {
	server   *httptest.Server
	slug     string
	requests atomic.Int64
	segHits  sync.Map // path → *int64
	slow     map[int]chan struct{}
}

func newUpstream(t *testing.T, slug string, segments int) *upstream {
	u := &upstream{slug: slug, slow: map[int]chan struct{}{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		u.requests.Add(1)
		fmt.Fprintf(w, `{"last_page":1,"data":[{"episode":1,"session":"sess1"}]}`)
	})
	mux.HandleFunc("/play/"+slug+"/sess1", func(w http.ResponseWriter, r *http.Request) {
		u.requests.Add(1)
		fmt.Fprintf(w, `<html><body>
<button data-src="%s/e/kwik-land" data-audio="jpn" data-resolution="1080" data-av1="0">1080p</button>
</body></html>`, u.server.URL)
	})
	mux.HandleFunc("/e/kwik-land", func(w http.ResponseWriter, r *http.Request) {
		u.requests.Add(1)
		fmt.Fprintf(w, `<html><body><script>eval("const source='%s/stream.m3u8';document.querySelector('video').src=source;")</script></body></html>`, u.server.URL)
	})
	mux.HandleFunc("/stream.m3u8", func(w http.ResponseWriter, r *http.Request) {
		u.requests.Add(1)
		var b strings.Builder
		b.WriteString("#EXTM3U\n")
		for i := 0; i < segments; i++ {
			fmt.Fprintf(&b, "#EXTINF:4.0,\nseg-%d.ts\n", i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		fmt.Fprint(w, b.String())
	})
	for i := 0; i < segments; i++ {
		mux.HandleFunc(fmt.Sprintf("/seg-%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			u.requests.Add(1)
			if r.Method == http.MethodGet {
				counter, _ := u.segHits.LoadOrStore(r.URL.Path, new(int64))
				atomic.AddInt64(counter.(*int64), 1)
			}
			if gate, ok := u.slow[segIndex(r.URL.Path)]; ok && r.Method == http.MethodGet {
				<-gate
			}
			body := segmentBody(segIndex(r.URL.Path))
			w.Header().Set("Content-Length", fmt.Sprint(len(body)))
			if r.Method == http.MethodHead {
				return
			}
			w.Write([]byte(body))
		})
	}

	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func segIndex(path string) int {
	var i int
	fmt.Sscanf(path, "/seg-%d.ts", &i)
	return i
}

// segmentBody yields 1 KB of deterministic content per segment index.
func segmentBody(i int) string {
	prefix := fmt.Sprintf("segment-%d-", i)
	return prefix + strings.Repeat("x", 1024-len(prefix))
}

func segGets(u *upstream, i int) int64 {
	counter, ok := u.segHits.Load(fmt.Sprintf("/seg-%d.ts", i))
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter.(*int64))
}

// stubMuxer installs a fake ffmpeg for the duration of the test.
func stubMuxer(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub muxer is a shell script")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := `#!/bin/sh
out=""
for a in "$@"; do out="$a"; done
echo "frame=1 time=00:00:12.00 bitrate=1" >&2
echo "muxed output" > "$out"
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	viper.Set(key.DownloadFFmpegPath, path)
	t.Cleanup(func() { viper.Set(key.DownloadFFmpegPath, "") })
}

func testEngine(store *state.Store, events Events) *Engine {
	return New(store, events, WithHostOptions(
		network.WithClient(http.DefaultClient),
		network.WithRetryPolicy(2, time.Millisecond),
	))
}

func openStore(t *testing.T) *state.Store {
	store, err := state.Open(filepath.Join(t.TempDir(), "download_state.json"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestHappyPath(t *testing.T) {
	stubMuxer(t)

	Convey("Given a full fake upstream", t, func() {
		u := newUpstream(t, "happy-abc", 3)
		events := &recorder{}
		eng := testEngine(openStore(t), events)
		downloadDir := t.TempDir()

		err := eng.StartDownload(context.Background(), Request{
			AnimeName:   "ABC",
			Slug:        "happy-abc",
			Episodes:    []int{1},
			DownloadDir: downloadDir,
			Host:        u.server.URL,
		})
		So(err, ShouldBeNil)

		Convey("The status trace matches the state machine", func() {
			So(events.statusTrace(), ShouldResemble, []string{
				StatusFetchingLink, StatusExtracting, StatusDownloading, StatusAssembling, StatusDone,
			})
		})

		Convey("The final file exists and scratch is gone", func() {
			finalPath := filepath.Join(downloadDir, "ABC", "ABC - 1.mp4")
			info, err := os.Stat(finalPath)
			So(err, ShouldBeNil)
			So(info.Size(), ShouldBeGreaterThan, 0)

			_, err = os.Stat(filepath.Join(downloadDir, "ABC", ".parts"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("The record is Completed and the completion event fired", func() {
			records := eng.Store().ListIncomplete()
			So(len(records), ShouldEqual, 0)

			events.mu.Lock()
			defer events.mu.Unlock()
			So(len(events.completions), ShouldEqual, 1)
			So(events.completions[0].Success, ShouldBeTrue)
			So(events.completions[0].FileSize, ShouldBeGreaterThan, 0)
		})

		Convey("Progress never regressed", func() {
			events.mu.Lock()
			defer events.mu.Unlock()
			var last int64 = -1
			for _, p := range events.progress {
				So(p.Done, ShouldBeGreaterThanOrEqualTo, last)
				So(p.Done, ShouldBeLessThanOrEqualTo, p.Total)
				last = p.Done
			}
		})
	})
}

func TestMissingMuxer(t *testing.T) {
	Convey("Given no muxer anywhere", t, func() {
		viper.Set(key.DownloadFFmpegPath, filepath.Join(t.TempDir(), "absent"))
		Reset(func() { viper.Set(key.DownloadFFmpegPath, "") })

		u := newUpstream(t, "nomux", 3)
		eng := testEngine(openStore(t), &recorder{})

		err := eng.StartDownload(context.Background(), Request{
			AnimeName:   "ABC",
			Slug:        "nomux",
			Episodes:    []int{1},
			DownloadDir: t.TempDir(),
			Host:        u.server.URL,
		})

		Convey("The batch fails fast with MissingDependency and no requests were made", func() {
			So(err, ShouldNotBeNil)
			So(errs.Is(err, errs.MissingDependency), ShouldBeTrue)
			So(u.requests.Load(), ShouldEqual, 0)
		})
	})
}

func TestEpisodeNotFound(t *testing.T) {
	stubMuxer(t)

	Convey("Given a request for a missing episode alongside a present one", t, func() {
		u := newUpstream(t, "partial", 3)
		events := &recorder{}
		eng := testEngine(openStore(t), events)

		err := eng.StartDownload(context.Background(), Request{
			AnimeName:   "ABC",
			Slug:        "partial",
			Episodes:    []int{7, 1},
			DownloadDir: t.TempDir(),
			Host:        u.server.URL,
		})
		So(err, ShouldBeNil)

		Convey("The missing number is reported and the sibling completes", func() {
			trace := events.statusTrace()
			So(trace, ShouldContain, StatusDone)
			So(trace[len(trace)-1], ShouldContainSubstring, "failed: episode not found")
		})
	})
}

func TestCancellation(t *testing.T) {
	stubMuxer(t)

	Convey("Given an upstream whose later segments stall", t, func() {
		u := newUpstream(t, "cancel-me", 10)
		gate := make(chan struct{})
		for i := 1; i < 10; i++ {
			u.slow[i] = gate
		}
		defer close(gate)

		events := &recorder{}
		eng := testEngine(openStore(t), events)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = eng.StartDownload(context.Background(), Request{
				AnimeName:   "ABC",
				Slug:        "cancel-me",
				Episodes:    []int{1},
				DownloadDir: t.TempDir(),
				Host:        u.server.URL,
			})
		}()

		// Wait for the job to be cancellable, then cancel it.
		So(waitFor(func() bool { return eng.CancelDownload(1) == nil }, 5*time.Second), ShouldBeTrue)
		<-done

		Convey("The terminal status is cancelled, exactly once", func() {
			trace := events.statusTrace()
			terminal := 0
			for _, s := range trace {
				if s == CancelledStatus || strings.HasPrefix(s, "failed") {
					terminal++
				}
			}
			So(terminal, ShouldEqual, 1)
			So(trace[len(trace)-1], ShouldEqual, CancelledStatus)
		})

		Convey("The record is no longer listed as incomplete", func() {
			records := eng.Store().ListIncomplete()
			So(len(records), ShouldEqual, 0) // cancelled is terminal, not resumable by listing
		})
	})
}

func TestResume(t *testing.T) {
	stubMuxer(t)

	Convey("Given a failed 10-segment episode with 7 valid parts", t, func() {
		u := newUpstream(t, "resume-abc", 10)
		viper.Set(key.HostURL, u.server.URL)
		Reset(func() { viper.Set(key.HostURL, "") })

		store := openStore(t)
		downloadDir := t.TempDir()

		animeDir := filepath.Join(downloadDir, "ABC")
		filePath := filepath.Join(animeDir, "ABC - 1.mp4")
		id, err := store.Add("ABC", "resume-abc", 1, filePath, "", "")
		So(err, ShouldBeNil)
		So(store.SetSourceURL(id, u.server.URL+"/stream.m3u8"), ShouldBeNil)
		So(store.MarkFailed(id, "network: boom"), ShouldBeNil)

		workDir := download.ScratchDir(animeDir, 1)
		So(os.MkdirAll(workDir, 0755), ShouldBeNil)
		for i := 0; i < 7; i++ {
			part := filepath.Join(workDir, fmt.Sprintf("%d.part", i))
			So(os.WriteFile(part, []byte(segmentBody(i)), 0644), ShouldBeNil)
		}

		events := &recorder{}
		eng := testEngine(store, events)

		So(eng.Resume(context.Background(), id), ShouldBeNil)

		Convey("Only the missing segments were fetched", func() {
			for i := 0; i < 7; i++ {
				So(segGets(u, i), ShouldEqual, 0)
			}
			for i := 7; i < 10; i++ {
				So(segGets(u, i), ShouldEqual, 1)
			}
		})

		Convey("The record completed against the original file path", func() {
			record, ok := store.Get(id)
			So(ok, ShouldBeTrue)
			So(record.Status, ShouldEqual, state.StatusCompleted)

			_, err := os.Stat(filePath)
			So(err, ShouldBeNil)
		})

		Convey("The resumed job ends with done", func() {
			trace := events.statusTrace()
			So(trace[len(trace)-1], ShouldEqual, StatusDone)
		})
	})
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
