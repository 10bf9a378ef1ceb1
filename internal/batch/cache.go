package batch

import (
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/timkrebs/image-node/internal/models"
)

// Cache keeps recent successful results keyed by a fingerprint of the input
// bytes and the requested work. A nil *Cache is a valid, disabled cache.
type Cache struct {
	entries *lru.Cache[uint64, models.ImageResult]
}

// NewCache creates a cache holding up to size results. size <= 0 disables
// caching and returns nil.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}
	entries, err := lru.New[uint64, models.ImageResult](size)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Fingerprint identifies the output of task under an operation cap
func Fingerprint(task models.ImageTask, maxOps int) uint64 {
	h := xxhash.New()
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(task.Data)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(task.Data)
	_, _ = h.WriteString("\x00")
	for _, op := range task.Operations {
		writeOperation(h, op)
	}
	_, _ = fmt.Fprintf(h, "\x00%s\x00%d\x00%d", task.Format, task.Quality, maxOps)
	return h.Sum64()
}

// writeOperation hashes the kind and every parameter in name order
func writeOperation(h *xxhash.Digest, op models.Operation) {
	_, _ = h.WriteString(string(op.Kind))
	params := op.Params()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		v := params[name]
		_, _ = fmt.Fprintf(h, "\x01%s=%s:%s", name, v.Type, v.AsString())
	}
	_, _ = h.WriteString("\x02")
}

// Get returns a cached result re-indexed for index and stamped with the
// current time
func (c *Cache) Get(key uint64, index int) (models.ImageResult, bool) {
	if c == nil {
		return models.ImageResult{}, false
	}
	res, ok := c.entries.Get(key)
	if !ok {
		return models.ImageResult{}, false
	}
	res.Index = index
	res.CreatedAt = time.Now().UTC()
	return res, true
}

// Add stores a successful result
func (c *Cache) Add(key uint64, res models.ImageResult) {
	if c == nil || !res.OK {
		return
	}
	c.entries.Add(key, res)
}

// Len returns the number of cached results
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
