package orchestrator

import (
	"sort"
	"sync"
	"time"
)

// ProjectStore is the in-memory registry of project records. All reads
// hand out deep copies; mutation goes through Update so no caller ever
// holds a reference into the store.
type ProjectStore struct {
	mu       sync.RWMutex
	projects map[string]*ProjectRecord
}

func NewProjectStore() *ProjectStore {
	return &ProjectStore{projects: make(map[string]*ProjectRecord)}
}

// Put registers a fresh record, replacing any previous entry with the
// same name.
func (s *ProjectStore) Put(rec *ProjectRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneRecord(rec)
	s.projects[rec.Name] = &cp
}

// Update applies fn to the named record under the store lock.
func (s *ProjectStore) Update(name string, fn func(*ProjectRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[name]
	if !ok {
		return ErrNotFound
	}
	fn(rec)
	return nil
}

// Snapshot returns a deep copy of the named record.
func (s *ProjectStore) Snapshot(name string) (ProjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.projects[name]
	if !ok {
		return ProjectRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// List returns copies of every record, ordered by start time then name.
func (s *ProjectStore) List() []ProjectRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProjectRecord, 0, len(s.projects))
	for _, rec := range s.projects {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names returns the tracked project names in no particular order.
func (s *ProjectStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.projects))
	for name := range s.projects {
		names = append(names, name)
	}
	return names
}

func (s *ProjectStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, name)
}

func (s *ProjectStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = make(map[string]*ProjectRecord)
}

func cloneRecord(rec *ProjectRecord) ProjectRecord {
	cp := *rec
	if rec.EndedAt != nil {
		t := *rec.EndedAt
		cp.EndedAt = &t
	}
	if rec.History != nil {
		cp.History = make([]IterationRecord, len(rec.History))
		for i, h := range rec.History {
			cp.History[i] = h
			if h.Feedback != nil {
				cp.History[i].Feedback = append([]string(nil), h.Feedback...)
			}
		}
	}
	return cp
}

// appendHistory is the single place iteration records are attached to a
// record, keeping timestamps consistent.
func appendHistory(rec *ProjectRecord, label string, report *TestReport) {
	rec.History = append(rec.History, IterationRecord{
		Iteration: label,
		Outcome:   report.Outcome,
		Feedback:  append([]string(nil), report.Feedback...),
		Timestamp: time.Now(),
	})
}
