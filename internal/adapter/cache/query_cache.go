package cache

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"priorart/internal/domain"
	"priorart/internal/port"
)

const (
	defaultSize = 100
	defaultTTL  = 5 * time.Minute
)

// QueryCache is a bounded LRU of passage lists. Every ingest or delete calls
// Invalidate, which empties it and starts a new generation.
type QueryCache struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front is most recently used
	size  int
	ttl   time.Duration
	gen   uint64
	now   func() time.Time
}

type entry struct {
	key      string
	passages []domain.Passage
	stored   time.Time
}

func NewQueryCache(size int, ttl time.Duration) *QueryCache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &QueryCache{
		items: make(map[string]*list.Element, size),
		lru:   list.New(),
		size:  size,
		ttl:   ttl,
		now:   time.Now,
	}
}

// cacheKey ignores the order of section filters.
func cacheKey(q domain.Query) string {
	sections := append([]string(nil), q.Filters.Sections...)
	sort.Strings(sections)
	return fmt.Sprintf("%d\x00%s\x00%s\x00%s", q.K, q.Filters.Class, strings.Join(sections, "\x1f"), q.Text)
}

// Get returns a copy of the cached passages for q.
func (c *QueryCache) Get(q domain.Query) ([]domain.Passage, bool) {
	key := cacheKey(q)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.stored) > c.ttl {
		c.lru.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return append([]domain.Passage(nil), e.passages...), true
}

// Generation identifies the index state. Read it before retrieving and hand
// it to Put.
func (c *QueryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Put stores passages unless the index changed since gen was read.
func (c *QueryCache) Put(q domain.Query, gen uint64, passages []domain.Passage) {
	key := cacheKey(q)
	e := &entry{
		key:      key,
		passages: append([]domain.Passage(nil), passages...),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	e.stored = c.now()

	if el, ok := c.items[key]; ok {
		el.Value = e
		c.lru.MoveToFront(el)
		return
	}
	for c.lru.Len() >= c.size {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
	c.items[key] = c.lru.PushFront(e)
}

func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.size)
	c.lru.Init()
	c.gen++
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CachedRetriever serves repeated queries from a QueryCache.
type CachedRetriever struct {
	next  port.Retriever
	cache *QueryCache
}

var _ port.Retriever = (*CachedRetriever)(nil)

func NewCachedRetriever(next port.Retriever, cache *QueryCache) *CachedRetriever {
	return &CachedRetriever{next: next, cache: cache}
}

func (r *CachedRetriever) Retrieve(ctx context.Context, q domain.Query) ([]domain.Passage, error) {
	if passages, ok := r.cache.Get(q); ok {
		return passages, nil
	}
	gen := r.cache.Generation()
	passages, err := r.next.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	r.cache.Put(q, gen, passages)
	return passages, nil
}
