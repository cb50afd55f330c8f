package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type memoryItem struct {
	key        string
	value      []byte
	expiration time.Time
	tags       []string
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expiration.IsZero() && now.After(m.expiration)
}

// MemoryProvider keeps entries in process, evicting the least recently used
// entry once MaxSize is reached.
type MemoryProvider struct {
	mu      sync.Mutex
	lru     *list.List
	items   map[string]*list.Element
	tags    map[string]map[string]struct{}
	options *Options
	hits    atomic.Int64
	misses  atomic.Int64
	now     func() time.Time
}

func NewMemoryProvider(opts *Options) *MemoryProvider {
	if opts == nil {
		opts = defaultOptions()
	}
	return &MemoryProvider{
		lru:     list.New(),
		items:   make(map[string]*list.Element),
		tags:    make(map[string]map[string]struct{}),
		options: opts,
		now:     time.Now,
	}
}

func (m *MemoryProvider) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	item := el.Value.(*memoryItem)
	if item.expired(m.now()) {
		m.removeElement(el)
		m.misses.Add(1)
		return nil, false
	}

	m.lru.MoveToFront(el)
	m.hits.Add(1)
	return item.value, true
}

func (m *MemoryProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.SetWithTags(ctx, key, value, ttl, nil)
}

func (m *MemoryProvider) SetWithTags(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiration time.Time
	if d := resolveTTL(ttl, m.options); d > 0 {
		expiration = m.now().Add(d)
	}

	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	} else if m.options.MaxSize > 0 && m.lru.Len() >= m.options.MaxSize {
		if oldest := m.lru.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}

	item := &memoryItem{key: key, value: value, expiration: expiration, tags: tags}
	m.items[key] = m.lru.PushFront(item)
	for _, tag := range tags {
		if m.tags[tag] == nil {
			m.tags[tag] = make(map[string]struct{})
		}
		m.tags[tag][key] = struct{}{}
	}
	return nil
}

func (m *MemoryProvider) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
	return nil
}

func (m *MemoryProvider) DeleteByTag(ctx context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.tags[tag] {
		if el, ok := m.items[key]; ok {
			m.removeElement(el)
		}
	}
	delete(m.tags, tag)
	return nil
}

func (m *MemoryProvider) Exists(ctx context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	return ok && !el.Value.(*memoryItem).expired(m.now())
}

func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Init()
	m.items = make(map[string]*list.Element)
	m.tags = make(map[string]map[string]struct{})
	return nil
}

func (m *MemoryProvider) Stats(ctx context.Context) (*CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var live int64
	for el := m.lru.Front(); el != nil; el = el.Next() {
		if !el.Value.(*memoryItem).expired(now) {
			live++
		}
	}

	return &CacheStats{
		Hits:         m.hits.Load(),
		Misses:       m.misses.Load(),
		Keys:         live,
		ProviderType: "memory",
		ProviderStats: map[string]any{
			"capacity": m.options.MaxSize,
			"tags":     len(m.tags),
		},
	}, nil
}

// removeElement must be called with mu held
func (m *MemoryProvider) removeElement(el *list.Element) {
	item := el.Value.(*memoryItem)
	m.lru.Remove(el)
	delete(m.items, item.key)
	for _, tag := range item.tags {
		if keys, ok := m.tags[tag]; ok {
			delete(keys, item.key)
			if len(keys) == 0 {
				delete(m.tags, tag)
			}
		}
	}
}
