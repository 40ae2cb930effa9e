// Package runstate holds the mutable state of a single orchestration run.
package runstate

import (
	"sync"

	"github.com/joescharf/cqi/internal/models"
)

// State is owned by exactly one run. Batch analysis updates it from several
// goroutines, so every accessor takes the mutex.
type State struct {
	mu sync.Mutex

	mode          models.Mode
	maxIterations int
	iteration     int

	claimed  map[string]bool
	analyzed []string

	issues       []models.Issue
	fingerprints map[string]bool
}

// New creates state for a run bounded by maxIterations.
func New(mode models.Mode, maxIterations int) *State {
	return &State{
		mode:          mode,
		maxIterations: maxIterations,
		claimed:       make(map[string]bool),
		fingerprints:  make(map[string]bool),
	}
}

// Mode returns the run's mode tag.
func (s *State) Mode() models.Mode { return s.mode }

// MaxIterations returns the iteration bound.
func (s *State) MaxIterations() int { return s.maxIterations }

// NextIteration advances the counter and reports whether the bound allows it.
func (s *State) NextIteration() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.iteration >= s.maxIterations {
		return s.iteration, false
	}
	s.iteration++
	return s.iteration, true
}

// Iteration returns the current iteration number (1-based once started).
func (s *State) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration
}

// Claim reserves path for analysis. It returns false when the path was
// already claimed in this run.
func (s *State) Claim(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[path] {
		return false
	}
	s.claimed[path] = true
	return true
}

// Claimed reports whether path has been reserved or analyzed.
func (s *State) Claimed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed[path]
}

// MarkAnalyzed records that the reviewer finished with path.
func (s *State) MarkAnalyzed(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed[path] = true
	for _, p := range s.analyzed {
		if p == path {
			return
		}
	}
	s.analyzed = append(s.analyzed, path)
}

// Analyzed returns analyzed paths in completion order.
func (s *State) Analyzed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.analyzed))
	copy(out, s.analyzed)
	return out
}

// AnalyzedCount returns the number of analyzed paths.
func (s *State) AnalyzedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.analyzed)
}

// AddIssues appends issues unconditionally, recording their fingerprints.
func (s *State) AddIssues(issues ...models.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, is := range issues {
		s.issues = append(s.issues, is)
		s.fingerprints[is.Fingerprint()] = true
	}
}

// MergeIssues appends only issues whose fingerprint is new and returns how
// many were added.
func (s *State) MergeIssues(issues ...models.Issue) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, is := range issues {
		fp := is.Fingerprint()
		if s.fingerprints[fp] {
			continue
		}
		s.fingerprints[fp] = true
		s.issues = append(s.issues, is)
		added++
	}
	return added
}

// Issues returns a copy of the accumulated issues in detection order.
func (s *State) Issues() []models.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Issue, len(s.issues))
	copy(out, s.issues)
	return out
}

// IssueCount returns the number of accumulated issues.
func (s *State) IssueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issues)
}
