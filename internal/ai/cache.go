package ai

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"followup-engine/backend/internal/prompts"
)

// DefaultCacheTTL bounds how long a decision is served for an unchanged conversation.
const DefaultCacheTTL = 30 * time.Second

// DecisionCache stores decisions by fingerprint. Misses must never fail a request.
type DecisionCache interface {
	Get(fingerprint string) (Decision, bool)
	Put(fingerprint string, decision Decision)
}

type cacheEntry struct {
	decision  Decision
	createdAt time.Time
}

// TTLCache is an in-memory DecisionCache with a fixed time to live.
type TTLCache struct {
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map
}

// NewTTLCache builds a cache; a nil clock uses time.Now.
func NewTTLCache(ttl time.Duration, now func() time.Time) *TTLCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TTLCache{ttl: ttl, now: now}
}

// Get returns a live entry and evicts an expired one.
func (c *TTLCache) Get(fingerprint string) (Decision, bool) {
	value, ok := c.entries.Load(fingerprint)
	if !ok {
		return Decision{}, false
	}
	entry := value.(*cacheEntry)
	if c.now().Sub(entry.createdAt) >= c.ttl {
		c.entries.CompareAndDelete(fingerprint, value)
		return Decision{}, false
	}
	decision := entry.decision
	decision.Summary = append([]string(nil), entry.decision.Summary...)
	return decision, true
}

// Put replaces any previous entry; concurrent writers on one key race and the last one wins.
func (c *TTLCache) Put(fingerprint string, decision Decision) {
	decision.Summary = append([]string(nil), decision.Summary...)
	c.entries.Store(fingerprint, &cacheEntry{decision: decision, createdAt: c.now()})
}

type fingerprintInput struct {
	AgentType prompts.AgentType `json:"agent_type"`
	Messages  []Message         `json:"messages"`
}

// Fingerprint hashes the ordered history and agent type into a stable cache key.
func Fingerprint(history []Message, agentType prompts.AgentType) string {
	payload, _ := json.Marshal(fingerprintInput{AgentType: agentType, Messages: history})
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
