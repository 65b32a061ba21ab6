package plancache

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds the number of cached plans.
const DefaultCapacity = 256

type entry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a fixed-capacity least-recently-used cache safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	items    map[K]*list.Element
}

func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU[K, V]{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
}

// Get returns the cached value and marks it most recently used.
func (l *LRU[K, V]) Get(key K) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	l.lruList.MoveToFront(elem)
	return elem.Value.(*entry[K, V]).value, true
}

// Put stores value, evicting the least recently used entry when full.
func (l *LRU[K, V]) Put(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.items[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		l.lruList.MoveToFront(elem)
		return
	}

	l.items[key] = l.lruList.PushFront(&entry[K, V]{key: key, value: value})
	if l.lruList.Len() > l.capacity {
		back := l.lruList.Back()
		l.lruList.Remove(back)
		delete(l.items, back.Value.(*entry[K, V]).key)
	}
}

// GetOrCreate returns the cached value for key or stores the result of build.
// build runs outside the lock; concurrent misses may build twice.
func (l *LRU[K, V]) GetOrCreate(key K, build func() (V, error)) (V, error) {
	if v, ok := l.Get(key); ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		return v, err
	}
	l.Put(key, v)
	return v, nil
}

func (l *LRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lruList.Len()
}
