package cache

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adtag/pkg/adtag"
	"github.com/thenexusengine/tne_adtag/pkg/logger"
)

// LookupObserver is told about every cache lookup
type LookupObserver interface {
	RecordCacheLookup(hit bool)
}

// Fetcher wraps an adtag.Fetcher with a read-through document cache.
// Cache errors are logged and never fail a fetch.
type Fetcher struct {
	store *Store
	next  adtag.Fetcher
	obs   LookupObserver
	log   zerolog.Logger
}

// NewFetcher creates a caching fetcher in front of next. obs may be nil.
func NewFetcher(store *Store, next adtag.Fetcher, obs LookupObserver) *Fetcher {
	return &Fetcher{store: store, next: next, obs: obs, log: logger.Log}
}

// Fetch returns the cached document for url, fetching and storing it on a miss
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	entry, err := f.store.Get(ctx, url)
	if err != nil {
		f.log.Warn().Err(err).Str("url", url).Msg("document cache read failed")
	}
	if f.obs != nil {
		f.obs.RecordCacheLookup(entry != nil)
	}
	if entry != nil {
		f.log.Debug().Str("url", url).Msg("document cache hit")
		return []byte(entry.Value), nil
	}

	body, err := f.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := f.store.Put(ctx, url, body); err != nil {
		f.log.Debug().Err(err).Str("url", url).Msg("document not cached")
	}
	return body, nil
}
