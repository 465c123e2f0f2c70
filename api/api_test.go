package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/network"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	filesystem.SetMemMapFs()
}

func testClient(serverURL string) *Client {
	return NewClient(network.NewHost(serverURL,
		network.WithClient(http.DefaultClient),
		network.WithRetryPolicy(1, time.Millisecond),
	))
}

func TestSearch(t *testing.T) {
	Convey("Given a search endpoint", t, func() {
		var gotMode, gotQuery string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMode = r.URL.Query().Get("m")
			gotQuery = r.URL.Query().Get("q")
			fmt.Fprint(w, `{"data":[{"session":"s1","title":"Sousou no Frieren"}]}`)
		}))
		defer server.Close()

		items, err := testClient(server.URL).Search(context.Background(), "frieren")
		So(err, ShouldBeNil)
		So(gotMode, ShouldEqual, "search")
		So(gotQuery, ShouldEqual, "frieren")
		So(len(items), ShouldEqual, 1)
		So(items[0].Title, ShouldEqual, "Sousou no Frieren")
	})
}

func TestEpisodes(t *testing.T) {
	Convey("Given a paged release catalog", t, func() {
		var pagesServed []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			pagesServed = append(pagesServed, page)
			switch page {
			case "1":
				fmt.Fprint(w, `{"last_page":2,"data":[{"episode":1,"session":"a"},{"episode":2,"session":"b"}]}`)
			case "2":
				fmt.Fprint(w, `{"last_page":2,"data":[{"episode":2.5,"session":"recap"},{"episode":3,"session":"c"}]}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		c := testClient(server.URL)
		slug := fmt.Sprintf("slug-%d", len(pagesServed))

		Convey("All pages are fetched and fractional episodes skipped", func() {
			episodes, err := c.Episodes(context.Background(), slug)
			So(err, ShouldBeNil)
			So(pagesServed, ShouldResemble, []string{"1", "2"})
			So(len(episodes), ShouldEqual, 3)
			So(episodes[2], ShouldResemble, Episode{Number: 3, Session: "c"})

			Convey("A second call is served from the catalog cache", func() {
				again, err := c.Episodes(context.Background(), slug)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, episodes)
				So(len(pagesServed), ShouldEqual, 2)
			})
		})
	})
}

func TestResolveAnimeName(t *testing.T) {
	Convey("Given an anime page", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><head><title>Sousou no Frieren :: animepahe</title></head><body>
<div class="anime-poster"><a><img data-src="https://i.pahe/poster.jpg" src="blank.gif"></a></div>
</body></html>`)
		}))
		defer server.Close()

		c := testClient(server.URL)

		Convey("The display name comes from the page title without the site suffix", func() {
			So(c.ResolveAnimeName(context.Background(), "abc", "hint"), ShouldEqual, "Sousou no Frieren")
		})

		Convey("The poster prefers data-src", func() {
			poster, err := c.FetchPoster(context.Background(), "abc")
			So(err, ShouldBeNil)
			So(poster, ShouldEqual, "https://i.pahe/poster.jpg")
		})
	})

	Convey("Given an unreachable anime page", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := testClient(server.URL)

		Convey("The fallback hint is returned", func() {
			So(c.ResolveAnimeName(context.Background(), "abc", "hint"), ShouldEqual, "hint")
		})
	})
}

func TestClosestTitle(t *testing.T) {
	Convey("ClosestTitle", t, func() {
		items := []SearchItem{
			{Session: "1", Title: "Naruto"},
			{Session: "2", Title: "Naruto Shippuden"},
			{Session: "3", Title: "Boruto"},
		}

		best, ok := ClosestTitle(items, "naruto")
		So(ok, ShouldBeTrue)
		So(best.Session, ShouldEqual, "1")

		_, ok = ClosestTitle(nil, "naruto")
		So(ok, ShouldBeFalse)
	})
}
