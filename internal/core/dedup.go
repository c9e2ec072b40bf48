package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// EventDedup is a short-lived deduplication cache that collapses the same log
// line delivered by two sources, e.g. the syslog listener and a file
// collector tailing the file syslog writes to. Repeats from the source that
// delivered a line first are real activity and always pass. Entries expire
// after the TTL and the oldest are evicted past maxSize.
//
// EventDedup is safe for concurrent use.
type EventDedup struct {
	seen *expirable.LRU[string, string]
}

// NewEventDedup creates a dedup cache. TTL controls how long a fingerprint is
// remembered. maxSize caps memory usage.
func NewEventDedup(ttl time.Duration, maxSize int) *EventDedup {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 50000
	}
	return &EventDedup{seen: expirable.NewLRU[string, string](maxSize, nil, ttl)}
}

// IsDuplicate reports whether e was already delivered by a different source
// within the TTL. The first source to deliver a fingerprint owns it.
func (d *EventDedup) IsDuplicate(e Event) bool {
	key := fingerprint(e)
	if owner, ok := d.seen.Get(key); ok {
		return owner != e.Source
	}
	d.seen.Add(key, e.Source)
	return false
}

// fingerprint hashes the identity of an event: type, time, actor fields and
// the first 256 bytes of the raw line. Source is left out.
func fingerprint(e Event) string {
	h := sha256.New()
	h.Write([]byte(e.Type))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(e.Time.UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(e.IP))
	h.Write([]byte{0})
	h.Write([]byte(e.Host))
	h.Write([]byte{0})
	h.Write([]byte(e.User))
	h.Write([]byte{0})

	raw := e.Raw
	if len(raw) > 256 {
		raw = raw[:256]
	}
	h.Write([]byte(raw))

	return hex.EncodeToString(h.Sum(nil)[:16]) // 128-bit hash is plenty
}

// Size returns the current number of entries in the cache.
func (d *EventDedup) Size() int {
	return d.seen.Len()
}
