package rules

import (
	"fmt"
	"sync"
)

// Cache holds compiled predicates keyed by (reward type, expression) so every
// user evaluated against the same reward reuses one compilation.
type Cache struct {
	mu    sync.RWMutex
	preds map[string]*Predicate
}

func NewCache() *Cache {
	return &Cache{preds: make(map[string]*Predicate)}
}

// Get returns the compiled predicate for an expression, compiling on first
// use. A compile failure here means a bad row slipped past authoring
// validation; the error is returned rather than cached.
func (c *Cache) Get(rewardType, expr string) (*Predicate, error) {
	key := rewardType + "\x00" + expr

	c.mu.RLock()
	pred, ok := c.preds[key]
	c.mu.RUnlock()
	if ok {
		return pred, nil
	}

	schema, ok := SchemaFor(rewardType)
	if !ok {
		return nil, fmt.Errorf("no fact schema for reward type %q", rewardType)
	}

	pred, err := Compile(expr, schema)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.preds[key] = pred
	c.mu.Unlock()

	return pred, nil
}
