package raster

import (
	"container/list"
	"sync"
)

// Reader loads a grid from a path. Grids returned by a Reader may be shared
// between callers and must be treated as read-only.
type Reader interface {
	Read(path string) (*Grid, error)
}

// FileReader reads GeoTIFF files from disk.
type FileReader struct{}

func (FileReader) Read(path string) (*Grid, error) { return Read(path) }

// CachedReader wraps a Reader with a small LRU of decoded grids so a tile
// used by both the stage reducer and the ownership rasterizer is decoded once.
type CachedReader struct {
	inner      Reader
	maxEntries int
	onLookup   func(hit bool)

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	path string
	grid *Grid
}

// NewCachedReader creates a cache decorator holding at most maxEntries grids.
// onLookup may be nil; it is called with the outcome of every lookup.
func NewCachedReader(inner Reader, maxEntries int, onLookup func(hit bool)) *CachedReader {
	return &CachedReader{
		inner:      inner,
		maxEntries: maxEntries,
		onLookup:   onLookup,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *CachedReader) Read(path string) (*Grid, error) {
	if c.maxEntries <= 0 {
		return c.inner.Read(path)
	}
	if g, ok := c.get(path); ok {
		c.observe(true)
		return g, nil
	}
	c.observe(false)
	g, err := c.inner.Read(path)
	if err != nil {
		return nil, err
	}
	c.put(path, g)
	return g, nil
}

// Len returns the number of cached grids.
func (c *CachedReader) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *CachedReader) observe(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}

func (c *CachedReader) get(path string) (*Grid, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e)
	return e.Value.(*cacheEntry).grid, true
}

func (c *CachedReader) put(path string, g *Grid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		e.Value.(*cacheEntry).grid = g
		c.order.MoveToFront(e)
		return
	}
	c.entries[path] = c.order.PushFront(&cacheEntry{path: path, grid: g})
	if c.order.Len() > c.maxEntries {
		tail := c.order.Back()
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(*cacheEntry).path)
	}
}
