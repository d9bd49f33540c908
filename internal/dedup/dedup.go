// Package dedup memoizes Vision-client submissions so a retried request
// carrying the same frames and policy isn't billed and rate-limited twice.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

type entry struct {
	report compliance.Report
	seenAt time.Time
}

// Deduper is an LRU cache of recently submitted batch keys, each holding
// the Report it previously produced for a bounded TTL window.
type Deduper struct {
	cache *lru.Cache[string, entry]
	ttl   time.Duration
}

// New constructs a Deduper holding at most maxKeys entries, each expiring
// ttl after it was first stored.
func New(maxKeys int, ttl time.Duration) *Deduper {
	c, _ := lru.New[string, entry](maxKeys)
	return &Deduper{cache: c, ttl: ttl}
}

// Lookup returns the cached Report for key if it was stored within the
// TTL window.
func (d *Deduper) Lookup(key string) (compliance.Report, bool) {
	e, ok := d.cache.Get(key)
	if !ok || time.Since(e.seenAt) >= d.ttl {
		return compliance.Report{}, false
	}
	return e.report, true
}

// Store records report under key, seen now.
func (d *Deduper) Store(key string, report compliance.Report) {
	d.cache.Add(key, entry{report: report, seenAt: time.Now()})
}

// BuildKey hashes a frame batch together with the policy rules it's being
// evaluated against, so the same frames under a different policy are
// never treated as the same submission.
func BuildKey(frames [][]byte, rules []compliance.PolicyRule) string {
	h := sha256.New()
	for _, f := range frames {
		h.Write(f)
		h.Write([]byte{0})
	}
	for _, r := range rules {
		fmt.Fprintf(h, "%s|%s|%s\x00", r.Type, r.Mode, r.Description)
	}
	return hex.EncodeToString(h.Sum(nil))
}
