package pipeline

import (
	"sync"
	"time"
)

// MemoryItem is one recalled memory attached to a run's context.
type MemoryItem struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance,omitempty"`
}

// Context is the shared workspace a run's units read from and write to. It
// starts with the query and any session metadata; each completed unit merges
// its output under a namespaced key ("<layer>.<unit>") so later layers can
// consume earlier layers' findings without key collisions.
//
// All methods are safe for concurrent use; units within a layer may run in
// parallel but merges are serialized at the layer join point.
type Context struct {
	Query     string
	UserID    string
	SessionID string
	CreatedAt time.Time
	Metadata  map[string]interface{}

	mu       sync.RWMutex
	values   map[string]interface{}
	memories []MemoryItem
}

// NewContext creates a run context for a query.
func NewContext(query, userID string) *Context {
	return &Context{
		Query:     query,
		UserID:    userID,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
		values:    make(map[string]interface{}),
	}
}

// Merge stores a unit's output under the namespaced key "<layer>.<unit>".
// Later merges to the same key overwrite; distinct units never collide.
func (c *Context) Merge(layer, unit string, output map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[layer+"."+unit] = output
}

// Get returns the merged output stored under a namespaced key.
func (c *Context) Get(key string) (map[string]interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	out, ok := v.(map[string]interface{})
	return out, ok
}

// Snapshot returns a shallow copy of all merged values. Used for flow
// records, where the input snapshot must not alias the live context.
func (c *Context) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// SetMemories attaches recalled memories to the context.
func (c *Context) SetMemories(items []MemoryItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memories = items
}

// Memories returns the recalled memories, never nil.
func (c *Context) Memories() []MemoryItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.memories == nil {
		return []MemoryItem{}
	}
	out := make([]MemoryItem, len(c.memories))
	copy(out, c.memories)
	return out
}

// ResultMeta carries execution metadata for one unit invocation.
type ResultMeta struct {
	Duration     time.Duration `json:"duration"`
	Backend      string        `json:"backend,omitempty"`
	Model        string        `json:"model,omitempty"`
	Attempts     int           `json:"attempts"`
	FallbackUsed bool          `json:"fallback_used"`
	Provenance   string        `json:"provenance,omitempty"`
}

// Result is the outcome of one unit invocation. Degraded results are
// shape-identical to successful ones: the output satisfies the unit's schema
// either way, and Degraded plus Meta.Provenance say where it came from.
type Result struct {
	Unit     string                 `json:"unit"`
	Function string                 `json:"function"`
	Success  bool                   `json:"success"`
	Degraded bool                   `json:"degraded"`
	Output   map[string]interface{} `json:"output"`
	Err      error                  `json:"-"`
	Meta     ResultMeta             `json:"meta"`
}

// FlowRecord is one entry in a run's information-flow trace. Exactly one
// record is appended per unit invocation, in execution order.
type FlowRecord struct {
	Seq       int                    `json:"seq"`
	Layer     string                 `json:"layer"`
	Unit      string                 `json:"unit"`
	Input     map[string]interface{} `json:"input"`
	Output    map[string]interface{} `json:"output"`
	Success   bool                   `json:"success"`
	Degraded  bool                   `json:"degraded"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
}
