package download

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/hls"
	"github.com/pahedl-app/pahedl/network"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Pool and assembler tests exercise real files and subprocesses.
	filesystem.SetOsFs()
}

func testPoolHost(serverURL string) *network.Host {
	return network.NewHost(serverURL,
		network.WithClient(http.DefaultClient),
		network.WithRetryPolicy(2, time.Millisecond),
	)
}

// plainPlaylist builds an unencrypted playlist of n segments on the server.
func plainPlaylist(serverURL string, n int) *hls.MediaPlaylist {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:4.0,\n%s/seg-%d.ts\n", serverURL, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	playlist, err := hls.Parse([]byte(b.String()), serverURL+"/playlist.m3u8")
	So(err, ShouldBeNil)
	return playlist
}

func TestPoolRun(t *testing.T) {
	Convey("Given a segment server and a pool of width 3", t, func() {
		const segments = 12
		var inFlight, peak int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := atomic.AddInt32(&inFlight, 1)
			for {
				seen := atomic.LoadInt32(&peak)
				if current <= seen || atomic.CompareAndSwapInt32(&peak, seen, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			fmt.Fprintf(w, "segment %s contents", r.URL.Path)
			atomic.AddInt32(&inFlight, -1)
		}))
		defer server.Close()

		workDir := t.TempDir()
		pool := NewPool(testPoolHost(server.URL), workDir, 3)
		playlist := plainPlaylist(server.URL, segments)
		tracker := NewTracker(int64(segments))

		parts, err := pool.Run(context.Background(), playlist, tracker, nil)
		So(err, ShouldBeNil)

		Convey("At most W fetches were in flight", func() {
			So(atomic.LoadInt32(&peak), ShouldBeLessThanOrEqualTo, 3)
			So(atomic.LoadInt32(&peak), ShouldBeGreaterThan, 1)
		})

		Convey("Parts come back in playlist order with the right contents", func() {
			So(len(parts), ShouldEqual, segments)
			for i, part := range parts {
				So(part, ShouldEqual, pool.PartPath(i))
				data, err := filesystem.API().ReadFile(part)
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, fmt.Sprintf("segment /seg-%d.ts contents", i))
			}
		})

		Convey("The tracker saw every segment complete", func() {
			snapshot := tracker.Snapshot()
			So(snapshot.Done, ShouldEqual, segments)
			So(snapshot.Total, ShouldEqual, segments)
		})
	})
}

func TestPoolEncrypted(t *testing.T) {
	Convey("Given an encrypted playlist with a default IV", t, func() {
		key := []byte("0123456789abcdef")
		var keyFetches int32

		mux := http.NewServeMux()
		mux.HandleFunc("/key.bin", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&keyFetches, 1)
			w.Write(key)
		})
		for i := 0; i < 4; i++ {
			mux.HandleFunc(fmt.Sprintf("/seg-%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
				index := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/seg-"), ".ts")
				var n int
				fmt.Sscanf(index, "%d", &n)
				w.Write(encryptCBC([]byte(fmt.Sprintf("plain segment %d", n)), key, hls.DefaultIV(n)))
			})
		}
		server := httptest.NewServer(mux)
		defer server.Close()

		body := fmt.Sprintf(`#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="key.bin"
#EXTINF:4.0,
%[1]s/seg-0.ts
#EXTINF:4.0,
%[1]s/seg-1.ts
#EXTINF:4.0,
%[1]s/seg-2.ts
#EXTINF:4.0,
%[1]s/seg-3.ts
#EXT-X-ENDLIST
`, server.URL)
		playlist, err := hls.Parse([]byte(body), server.URL+"/playlist.m3u8")
		So(err, ShouldBeNil)

		pool := NewPool(testPoolHost(server.URL), t.TempDir(), 4)
		parts, err := pool.Run(context.Background(), playlist, NewTracker(4), nil)
		So(err, ShouldBeNil)

		Convey("Each segment decrypts with its index IV", func() {
			for i, part := range parts {
				data, err := filesystem.API().ReadFile(part)
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, fmt.Sprintf("plain segment %d", i))
			}
		})

		Convey("The key was fetched exactly once", func() {
			So(atomic.LoadInt32(&keyFetches), ShouldEqual, 1)
		})
	})
}

func TestPoolCancellation(t *testing.T) {
	Convey("Given a slow segment server", t, func() {
		release := make(chan struct{})
		var served int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&served, 1) == 1 {
				fmt.Fprint(w, "first segment")
				return
			}
			<-release
			fmt.Fprint(w, "late segment")
		}))
		defer server.Close()
		defer close(release)

		workDir := t.TempDir()
		pool := NewPool(testPoolHost(server.URL), workDir, 2)
		playlist := plainPlaylist(server.URL, 10)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()

		_, err := pool.Run(ctx, playlist, NewTracker(10), nil)

		Convey("The run aborts with a Cancelled classification", func() {
			So(err, ShouldNotBeNil)
			So(errs.Is(err, errs.Cancelled), ShouldBeTrue)
		})

		Convey("Part residue stays on disk for diagnosis", func() {
			entries, err := filesystem.API().ReadDir(workDir)
			So(err, ShouldBeNil)
			So(len(entries), ShouldBeGreaterThanOrEqualTo, 1)
		})
	})
}

func TestPoolSkip(t *testing.T) {
	Convey("Given a pool with pre-validated parts", t, func() {
		var served int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&served, 1)
			fmt.Fprint(w, "fresh")
		}))
		defer server.Close()

		workDir := t.TempDir()
		pool := NewPool(testPoolHost(server.URL), workDir, 2)
		playlist := plainPlaylist(server.URL, 3)

		So(filesystem.API().WriteFile(pool.PartPath(0), []byte("kept part"), 0644), ShouldBeNil)
		tracker := NewTracker(3)

		parts, err := pool.Run(context.Background(), playlist, tracker, map[int]bool{0: true})
		So(err, ShouldBeNil)

		Convey("Skipped segments are not refetched but still counted", func() {
			So(atomic.LoadInt32(&served), ShouldEqual, 2)
			data, _ := filesystem.API().ReadFile(parts[0])
			So(string(data), ShouldEqual, "kept part")
			So(tracker.Snapshot().Done, ShouldEqual, 3)
		})
	})
}

// encryptCBC is the test-side inverse of the decryptor.
func encryptCBC(plain, key, iv []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := make([]byte, len(plain)+pad)
	copy(padded, plain)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}
