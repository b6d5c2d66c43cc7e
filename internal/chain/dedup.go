package chain

import "container/list"

// SeenLogs is a bounded LRU of log keys ("<txhash>:<logindex>") already
// forwarded. It absorbs the overlap between backfill, gap fill and the live
// subscription. Not thread-safe: owned by one feed goroutine.
type SeenLogs struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewSeenLogs(capacity int) *SeenLogs {
	if capacity <= 0 {
		capacity = 1
	}
	return &SeenLogs{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (s *SeenLogs) Contains(key string) bool {
	elem, exists := s.cache[key]
	if exists {
		s.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (s *SeenLogs) Add(key string) {
	if elem, exists := s.cache[key]; exists {
		s.lruList.MoveToFront(elem)
		return
	}

	s.cache[key] = s.lruList.PushFront(key)

	if s.lruList.Len() > s.capacity {
		s.evictOldest()
	}
}

func (s *SeenLogs) evictOldest() {
	elem := s.lruList.Back()
	if elem != nil {
		s.lruList.Remove(elem)
		delete(s.cache, elem.Value.(string))
		s.evictions++
	}
}

// Size returns current number of entries
func (s *SeenLogs) Size() int {
	return s.lruList.Len()
}

// Evictions returns total evictions
func (s *SeenLogs) Evictions() int64 {
	return s.evictions
}
