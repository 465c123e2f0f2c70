package api

import (
	"time"

	"github.com/metafates/gache"
	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/log"
	"github.com/pahedl-app/pahedl/where"
)

// catalogCache is a disk-backed registry mapping anime slugs to their
// materialized episode catalogs. Sessions rotate server-side, so entries
// expire after a day.
var catalogCache = gache.New[map[string][]Episode](
	&gache.Options{
		Path:       where.Catalog(),
		Lifetime:   24 * time.Hour,
		FileSystem: &filesystem.GacheFs{},
	},
)

func readCatalog(slug string) ([]Episode, bool) {
	cached, expired, err := catalogCache.Get()
	if err != nil || expired || cached == nil {
		return nil, false
	}
	episodes, ok := cached[slug]
	return episodes, ok && len(episodes) > 0
}

func writeCatalog(slug string, episodes []Episode) {
	cached, expired, err := catalogCache.Get()
	if err != nil || expired || cached == nil {
		cached = make(map[string][]Episode)
	}
	cached[slug] = episodes

	if err := catalogCache.Set(cached); err != nil {
		log.Warnf("catalog cache write failed: %v", err)
	}
}

// InvalidateCatalog drops the cached catalog for a slug, forcing the next
// Episodes call to refetch.
func InvalidateCatalog(slug string) {
	cached, expired, err := catalogCache.Get()
	if err != nil || expired || cached == nil {
		return
	}
	delete(cached, slug)
	if err := catalogCache.Set(cached); err != nil {
		log.Warnf("catalog cache write failed: %v", err)
	}
}
