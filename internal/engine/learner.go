package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// NoItem marks a learner that has not attempted anything yet.
const NoItem = -1

// Response is the first recorded attempt of a learner at an item.
type Response struct {
	Score float64   `json:"score"`
	Time  time.Time `json:"time"`
}

// LearnerState is an exported copy of one learner's state.
// Mastery is in the engine's formulation encoding.
type LearnerState struct {
	ID       string           `json:"id"`
	Index    int              `json:"index"`
	Mastery  []float64        `json:"mastery"`
	Exposure []float64        `json:"exposure"`
	LastSeen int              `json:"last_seen"`
	History  map[int]Response `json:"history"`
}

// Pristine reports whether no attempt has touched any LO.
func (s LearnerState) Pristine() bool {
	return allZero(s.Exposure)
}

// learner is the mutable per-learner record. mu guards every field but
// id and index.
type learner struct {
	mu       sync.Mutex
	id       string
	index    int
	mastery  []float64
	exposure []float64
	lastSeen int
	history  map[int]Response
}

func (l *learner) seen(item int) bool {
	_, ok := l.history[item]
	return ok
}

func (l *learner) pristine() bool {
	return allZero(l.exposure)
}

// snapshot copies the learner's state. The caller must hold l.mu.
func (l *learner) snapshot() LearnerState {
	h := make(map[int]Response, len(l.history))
	for k, v := range l.history {
		h[k] = v
	}
	return LearnerState{
		ID:       l.id,
		Index:    l.index,
		Mastery:  append([]float64(nil), l.mastery...),
		Exposure: append([]float64(nil), l.exposure...),
		LastSeen: l.lastSeen,
		History:  h,
	}
}

// attempts returns the learner's first attempts in chronological order,
// ties broken by item index. The caller must hold l.mu.
func (l *learner) attempts() (items []int, scores []float64) {
	items = make([]int, 0, len(l.history))
	for item := range l.history {
		items = append(items, item)
	}
	sort.Slice(items, func(a, b int) bool {
		ta, tb := l.history[items[a]].Time, l.history[items[b]].Time
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return items[a] < items[b]
	})
	scores = make([]float64, len(items))
	for i, item := range items {
		scores[i] = l.history[item].Score
	}
	return items, scores
}

// learnerStore maps external learner ids to dense, append-only indices.
type learnerStore struct {
	mu       sync.RWMutex
	index    map[string]int
	learners []*learner
}

func newLearnerStore() *learnerStore {
	return &learnerStore{index: make(map[string]int)}
}

// lookup returns the learner registered under id, or nil.
func (s *learnerStore) lookup(id string) *learner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.index[id]; ok {
		return s.learners[i]
	}
	return nil
}

// acquire returns the learner registered under id, allocating the next
// index on first contact. A new learner starts at the encoded prior
// produced by initial.
func (s *learnerStore) acquire(id string, initial func() []float64) *learner {
	if l := s.lookup(id); l != nil {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[id]; ok {
		return s.learners[i]
	}
	mastery := initial()
	l := &learner{
		id:       id,
		index:    len(s.learners),
		mastery:  mastery,
		exposure: make([]float64, len(mastery)),
		lastSeen: NoItem,
		history:  make(map[int]Response),
	}
	s.index[id] = l.index
	s.learners = append(s.learners, l)
	return l
}

// all returns the registered learners in index order.
func (s *learnerStore) all() []*learner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*learner(nil), s.learners...)
}

func (s *learnerStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.learners)
}

// restore registers learners from exported states, in index order.
// Nothing is registered if any state is invalid or already known. A state
// with no exposure must sit exactly at prior, have no history and no last
// seen item.
func (s *learnerStore) restore(states []LearnerState, prior []float64, nItems int) error {
	nLOs := len(prior)
	sorted := append([]LearnerState(nil), states...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Index < sorted[b].Index })

	built := make([]*learner, 0, len(sorted))
	for _, st := range sorted {
		if len(st.Mastery) != nLOs || len(st.Exposure) != nLOs {
			return fmt.Errorf("learner %q: state has wrong number of learning objectives", st.ID)
		}
		if st.LastSeen < NoItem || st.LastSeen >= nItems {
			return fmt.Errorf("learner %q: %w %d", st.ID, ErrUnknownItem, st.LastSeen)
		}
		for _, x := range st.Exposure {
			if !(x >= 0) {
				return fmt.Errorf("learner %q: %w: negative exposure", st.ID, ErrInvalidState)
			}
		}
		if allZero(st.Exposure) {
			if len(st.History) > 0 || st.LastSeen != NoItem {
				return fmt.Errorf("learner %q: %w: attempts without exposure", st.ID, ErrInvalidState)
			}
			for j, m := range st.Mastery {
				if m != prior[j] {
					return fmt.Errorf("learner %q: %w: unexposed mastery differs from the prior", st.ID, ErrInvalidState)
				}
			}
		}
		h := make(map[int]Response, len(st.History))
		for item, r := range st.History {
			if item < 0 || item >= nItems {
				return fmt.Errorf("learner %q: %w %d", st.ID, ErrUnknownItem, item)
			}
			h[item] = r
		}
		built = append(built, &learner{
			id:       st.ID,
			mastery:  append([]float64(nil), st.Mastery...),
			exposure: append([]float64(nil), st.Exposure...),
			lastSeen: st.LastSeen,
			history:  h,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(built))
	for _, l := range built {
		if _, ok := s.index[l.id]; ok || seen[l.id] {
			return fmt.Errorf("learner %q already registered", l.id)
		}
		seen[l.id] = true
	}
	for _, l := range built {
		l.index = len(s.learners)
		s.index[l.id] = l.index
		s.learners = append(s.learners, l)
	}
	return nil
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
