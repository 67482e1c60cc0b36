package rdf

import "sync"

// Store is an in-memory quad store. Duplicate quads are stored once.
// Lookups with a bound subject or predicate go through position indexes.
type Store struct {
	mu    sync.RWMutex
	quads []Quad
	index map[Quad]struct{}

	bySubject map[Term][]int
	bySP      map[[2]Term][]int
	byPred    map[Term][]int
	byPO      map[[2]Term][]int
}

func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.quads = nil
	s.index = map[Quad]struct{}{}
	s.bySubject = map[Term][]int{}
	s.bySP = map[[2]Term][]int{}
	s.byPred = map[Term][]int{}
	s.byPO = map[[2]Term][]int{}
}

// AddQuads adds quads and returns how many were new.
func (s *Store) AddQuads(quads ...Quad) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		s.reset()
	}
	added := 0
	for _, q := range quads {
		if _, ok := s.index[q]; ok {
			continue
		}
		pos := len(s.quads)
		s.index[q] = struct{}{}
		s.quads = append(s.quads, q)
		s.bySubject[q.S] = append(s.bySubject[q.S], pos)
		s.bySP[[2]Term{q.S, q.P}] = append(s.bySP[[2]Term{q.S, q.P}], pos)
		s.byPred[q.P] = append(s.byPred[q.P], pos)
		s.byPO[[2]Term{q.P, q.O}] = append(s.byPO[[2]Term{q.P, q.O}], pos)
		added++
	}
	return added
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quads)
}

func (s *Store) RemoveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Quads returns a snapshot in insertion order.
func (s *Store) Quads() []Quad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Quad, len(s.quads))
	copy(out, s.quads)
	return out
}

// Match returns the quads whose subject, predicate and object equal the
// non-zero arguments, across all graphs.
func (s *Store) Match(subj, pred, obj Term) []Quad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keep := func(q Quad) bool {
		return (subj.IsZero() || q.S == subj) &&
			(pred.IsZero() || q.P == pred) &&
			(obj.IsZero() || q.O == obj)
	}

	var positions []int
	switch {
	case !subj.IsZero() && !pred.IsZero():
		positions = s.bySP[[2]Term{subj, pred}]
	case !subj.IsZero():
		positions = s.bySubject[subj]
	case !pred.IsZero() && !obj.IsZero():
		positions = s.byPO[[2]Term{pred, obj}]
	case !pred.IsZero():
		positions = s.byPred[pred]
	default:
		var out []Quad
		for _, q := range s.quads {
			if keep(q) {
				out = append(out, q)
			}
		}
		return out
	}

	var out []Quad
	for _, pos := range positions {
		if q := s.quads[pos]; keep(q) {
			out = append(out, q)
		}
	}
	return out
}

// Graph returns the quads in graph g. The zero Term selects the default graph.
func (s *Store) Graph(g Term) []Quad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Quad
	for _, q := range s.quads {
		if q.G == g {
			out = append(out, q)
		}
	}
	return out
}

// Objects returns the objects of subj pred, in insertion order.
func (s *Store) Objects(subj, pred Term) []Term {
	matches := s.Match(subj, pred, Term{})
	out := make([]Term, 0, len(matches))
	for _, q := range matches {
		out = append(out, q.O)
	}
	return out
}

// Subjects returns the distinct subjects of pred obj.
func (s *Store) Subjects(pred, obj Term) []Term {
	matches := s.Match(Term{}, pred, obj)
	seen := make(map[Term]struct{}, len(matches))
	out := make([]Term, 0, len(matches))
	for _, q := range matches {
		if _, ok := seen[q.S]; ok {
			continue
		}
		seen[q.S] = struct{}{}
		out = append(out, q.S)
	}
	return out
}
