// Package session implements the session provider and the session identity
// provider.
//
// A session binds the authenticated identities of a principal (user,
// application, device) for a validity window. It moves through
// Established -> Extended* -> Abandoned | Expired. Only the SHA-256 hash
// of the refresh token is stored, and each Extend rotates it.
package session

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/santedb/santedb-server-sub007/internal/auth"
	"github.com/santedb/santedb-server-sub007/internal/db/models"
)

// Custom claim types recorded on sessions.
const (
	ClaimTypePurposeOfUse  = "purpose_of_use"
	ClaimTypeLanguage      = "language"
	ClaimTypeClientAddress = "client_address"
)

// Session is the caller-visible view of a session. RefreshToken is only set
// on the values returned by Establish and Extend.
type Session struct {
	ID            string
	RefreshToken  string
	NotBefore     time.Time
	NotAfter      time.Time
	LongLived     bool
	ClientAddress string
	PurposeOfUse  string
	Language      string
	Claims        auth.Claims
	CreatedAt     time.Time
	RefreshedAt   *time.Time
	AbandonedAt   *time.Time
}

// IsAbandoned reports whether the session was abandoned.
func (s *Session) IsAbandoned() bool {
	return s != nil && s.AbandonedAt != nil
}

// IsExpired reports whether the session's window has closed at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.NotAfter)
}

// SIDs returns the SIDs of the bound identities in order.
func (s *Session) SIDs() []string {
	var out []string
	for _, c := range s.Claims.OfKind(auth.ClaimKindSID) {
		out = append(out, c.Value)
	}
	return out
}

// Request carries the parameters of Establish.
type Request struct {
	ClientAddress string
	LongLived     bool
	PurposeOfUse  string
	Scopes        []string
	Language      string
}

func fromModel(m *models.Session) *Session {
	claims := make(auth.Claims, 0, len(m.Claims))
	for _, c := range m.Claims {
		claims = append(claims, auth.ParseClaim(c.Type, c.Value))
	}
	return &Session{
		ID:            m.ID,
		NotBefore:     m.NotBefore,
		NotAfter:      m.NotAfter,
		LongLived:     m.LongLived,
		ClientAddress: m.ClientAddress,
		PurposeOfUse:  m.PurposeOfUse,
		Language:      m.Language,
		Claims:        claims,
		CreatedAt:     m.CreatedAt,
		RefreshedAt:   m.RefreshedAt,
		AbandonedAt:   m.AbandonedAt,
	}
}

// storeTime returns t in UTC truncated to the precision every store keeps.
func storeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

type cacheEntry struct {
	principal *auth.Principal
	notAfter  time.Time
}

// Cache holds resolved session principals keyed by session id. A nil
// *Cache is valid and caches nothing.
//
// Evict leaves a tombstone carrying an eviction sequence number. A resolver
// takes a snapshot of the sequence before reading the store and add drops
// the entry when the id was evicted after that snapshot, so a session
// abandoned mid-resolution is never cached.
type Cache struct {
	mu      sync.Mutex
	lru     *expirable.LRU[string, cacheEntry]
	evicted *expirable.LRU[string, uint64]
	seq     uint64
}

// NewCache returns a cache of at most size principals kept for ttl. A
// non-positive size or ttl disables caching.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &Cache{
		lru:     expirable.NewLRU[string, cacheEntry](size, nil, ttl),
		evicted: expirable.NewLRU[string, uint64](size, nil, ttl),
	}
}

func (c *Cache) get(id string) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	return c.lru.Get(id)
}

// snapshot returns the current eviction sequence.
func (c *Cache) snapshot() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// add stores e unless id was evicted after snap was taken.
func (c *Cache) add(id string, e cacheEntry, snap uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if at, ok := c.evicted.Peek(id); ok && at > snap {
		return
	}
	c.lru.Add(id, e)
}

// Evict drops the entry for a session id.
func (c *Cache) Evict(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.evicted.Add(id, c.seq)
	c.lru.Remove(id)
}

// Len returns the number of cached principals.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
