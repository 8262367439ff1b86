package poller

import (
	"github.com/gammazero/deque"
)

/**
 * ProcessedSet remembers the most recent ids up to a capacity, adding an
 * id beyond it evicts the oldest one.
 */
type ProcessedSet struct {
	capacity int
	order    deque.Deque[string]
	index    map[string]struct{}
}

func NewProcessedSet(capacity int, ids ...string) *ProcessedSet {
	s := &ProcessedSet{
		capacity: capacity,
		index:    make(map[string]struct{}, capacity),
	}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *ProcessedSet) Contains(id string) bool {
	_, exists := s.index[id]
	return exists
}

// Add records id as the most recent, an id already present is left where it is.
func (s *ProcessedSet) Add(id string) {
	if s.Contains(id) {
		return
	}
	s.order.PushBack(id)
	s.index[id] = struct{}{}
	for s.capacity > 0 && s.order.Len() > s.capacity {
		delete(s.index, s.order.PopFront())
	}
}

func (s *ProcessedSet) Len() int {
	return s.order.Len()
}

// IDs lists the ids from the oldest to the most recent.
func (s *ProcessedSet) IDs() []string {
	ids := make([]string, 0, s.order.Len())
	for i := 0; i < s.order.Len(); i++ {
		ids = append(ids, s.order.At(i))
	}
	return ids
}
