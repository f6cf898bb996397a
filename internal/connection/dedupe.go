package connection

import (
	"time"

	"github.com/karlseguin/ccache/v3"
)

// Deduper remembers recently seen message ids so a redelivered message is
// not executed twice.
type Deduper struct {
	cache *ccache.Cache[struct{}]
	ttl   time.Duration
}

func NewDeduper(ttl time.Duration) *Deduper {
	return &Deduper{
		cache: ccache.New(ccache.Configure[struct{}]().MaxSize(1000).ItemsToPrune(100)),
		ttl:   ttl,
	}
}

// Seen records id and reports whether it was already recorded and not yet
// expired. Empty ids are never considered seen.
func (d *Deduper) Seen(id string) bool {
	if d == nil || id == "" {
		return false
	}
	if item := d.cache.Get(id); item != nil && !item.Expired() {
		return true
	}
	d.cache.Set(id, struct{}{}, d.ttl)
	return false
}

// Stop releases the cache's background worker.
func (d *Deduper) Stop() {
	if d != nil {
		d.cache.Stop()
	}
}
