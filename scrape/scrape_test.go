package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/network"
	. "github.com/smartystreets/goconvey/convey"
)

func testScraper(serverURL string) *Scraper {
	return New(network.NewHost(serverURL,
		network.WithClient(http.DefaultClient),
		network.WithRetryPolicy(1, time.Millisecond),
	))
}

func TestCandidates(t *testing.T) {
	Convey("Given a play page with source buttons", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><body><div id="resolutionMenu">
<button data-src="https://kwik.si/e/aaa" data-audio="jpn" data-resolution="720" data-av1="0">720p</button>
<button data-src="https://kwik.si/e/bbb" data-audio="jpn" data-resolution="1080" data-av1="0">1080p</button>
<button data-src="https://mirror.example/e/ccc" data-audio="eng" data-resolution="1080" data-av1="1">1080p av1</button>
<button>no source</button>
</div></body></html>`)
		}))
		defer server.Close()

		s := testScraper(server.URL)

		Convey("Each data-src row becomes a candidate", func() {
			candidates, err := s.Candidates(context.Background(), server.URL+"/play/abc/sess")
			So(err, ShouldBeNil)
			So(len(candidates), ShouldEqual, 3)
			So(candidates[0].Audio, ShouldEqual, "jpn")
			So(candidates[2].AV1, ShouldBeTrue)
		})
	})

	Convey("Given a play page without sources", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><body><p>nothing</p></body></html>`)
		}))
		defer server.Close()

		s := testScraper(server.URL)

		Convey("A parse error is returned", func() {
			_, err := s.Candidates(context.Background(), server.URL+"/play/abc/sess")
			So(err, ShouldNotBeNil)
			So(errs.Is(err, errs.ParseError), ShouldBeTrue)
		})
	})
}

func TestSelect(t *testing.T) {
	Convey("Select", t, func() {
		kwik1080 := Candidate{Src: "https://kwik.si/e/x", Resolution: "1080"}
		mirror720 := Candidate{Src: "https://mirror.example/e/y", Resolution: "720"}
		av1 := Candidate{Src: "https://mirror.example/e/z", Resolution: "1080", AV1: true}

		Convey("AV1 is dropped, preferences applied, kwik preferred last", func() {
			chosen, ok := Select([]Candidate{av1, mirror720, kwik1080}, "", "1080")
			So(ok, ShouldBeTrue)
			So(chosen, ShouldResemble, kwik1080)
		})

		Convey("AV1 survives when nothing else remains", func() {
			chosen, ok := Select([]Candidate{av1}, "", "")
			So(ok, ShouldBeTrue)
			So(chosen.AV1, ShouldBeTrue)
		})

		Convey("An unmatched preference keeps the full set", func() {
			chosen, ok := Select([]Candidate{mirror720, kwik1080}, "", "480")
			So(ok, ShouldBeTrue)
			So(chosen, ShouldResemble, kwik1080)
		})

		Convey("Audio preference restricts when it matches", func() {
			jpn := Candidate{Src: "https://mirror.example/e/j", Audio: "jpn"}
			eng := Candidate{Src: "https://mirror.example/e/e", Audio: "eng"}
			chosen, ok := Select([]Candidate{jpn, eng}, "jpn", "")
			So(ok, ShouldBeTrue)
			So(chosen, ShouldResemble, jpn)
		})

		Convey("The last survivor wins without a provider match", func() {
			a := Candidate{Src: "https://mirror.example/e/a"}
			b := Candidate{Src: "https://mirror.example/e/b"}
			chosen, ok := Select([]Candidate{a, b}, "", "")
			So(ok, ShouldBeTrue)
			So(chosen, ShouldResemble, b)
		})

		Convey("An empty set selects nothing", func() {
			_, ok := Select(nil, "", "")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestResolve(t *testing.T) {
	Convey("Given a landing page with a packed dispatcher", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The inner payload is what the packer would reconstruct; the
			// outer eval is rewritten to console.log by the transform.
			fmt.Fprint(w, `<html><body>
<script>eval("const source='https://eu-11.cache.net/stream/owo.m3u8';document.querySelector('video').src=source;")</script>
</body></html>`)
		}))
		defer server.Close()

		s := testScraper(server.URL)

		Convey("The playlist URL is recovered", func() {
			resolved, err := s.Resolve(context.Background(), Candidate{Src: server.URL + "/e/aaa"})
			So(err, ShouldBeNil)
			So(resolved.PlaylistURL, ShouldEqual, "https://eu-11.cache.net/stream/owo.m3u8")
		})
	})

	Convey("Given a landing page without a packed script", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><body><script>var x = 1;</script></body></html>`)
		}))
		defer server.Close()

		s := testScraper(server.URL)

		Convey("A deobfuscation error is returned", func() {
			_, err := s.Resolve(context.Background(), Candidate{Src: server.URL + "/e/aaa"})
			So(err, ShouldNotBeNil)
			So(errs.Is(err, errs.DeobfuscationError), ShouldBeTrue)
		})
	})
}
