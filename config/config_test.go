package config

import (
	"testing"

	"github.com/pahedl-app/pahedl/filesystem"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"
)

func init() {
	filesystem.SetMemMapFs()
}

func TestSetup(t *testing.T) {
	Convey("Config Setup", t, func() {
		Convey("Should initialize without error", func() {
			err := Setup()
			So(err, ShouldBeNil)
		})

		Convey("Should have default values populated", func() {
			_ = Setup()
			for name := range Default {
				So(viper.Get(name), ShouldNotBeNil)
			}
		})

		Convey("EnvKeyReplacer should convert dots to underscores", func() {
			So(EnvKeyReplacer.Replace("download.workers"), ShouldEqual, "download_workers")
		})
	})
}

func TestNormalizeHost(t *testing.T) {
	Convey("NormalizeHost", t, func() {
		Convey("Should strip the trailing slash", func() {
			So(NormalizeHost("https://animepahe.si/"), ShouldEqual, "https://animepahe.si")
		})
		Convey("Should trim whitespace", func() {
			So(NormalizeHost("  https://animepahe.ru  "), ShouldEqual, "https://animepahe.ru")
		})
		Convey("Should fall back to the default mirror when blank", func() {
			So(NormalizeHost("   "), ShouldEqual, "https://animepahe.si")
		})
	})
}
