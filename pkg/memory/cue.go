// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/jllopis/cgcs/pkg/consent"
	"github.com/jllopis/cgcs/pkg/errors"
)

// Cue names a tag pattern that may trigger retrieval.
type Cue struct {
	ID          string `json:"id"`
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// RegisterCue adds or replaces a cue. New cues are enabled.
func (s *DualStore) RegisterCue(id, pattern, description string) (Cue, error) {
	if id == "" || pattern == "" {
		return Cue{}, errors.New(errors.CodeInvalidInput, "cue id and pattern are required", nil)
	}
	c := &Cue{ID: id, Pattern: pattern, Description: description, Enabled: true}
	s.mu.Lock()
	s.cues[id] = c
	s.mu.Unlock()
	return *c, nil
}

// EnableCue turns a cue on. It reports whether the cue exists.
func (s *DualStore) EnableCue(id string) bool { return s.setCue(id, true) }

// DisableCue turns a cue off. It reports whether the cue exists.
func (s *DualStore) DisableCue(id string) bool { return s.setCue(id, false) }

func (s *DualStore) setCue(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cues[id]
	if ok {
		c.Enabled = enabled
	}
	return ok
}

// Cues returns the registered cues.
func (s *DualStore) Cues() []Cue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cue, 0, len(s.cues))
	for _, c := range s.cues {
		out = append(out, *c)
	}
	return out
}

// RecallByCue returns anchors tagged with the cue's pattern. Nothing is
// returned when the cue is missing or disabled, or when a consent checker is
// wired and requester holds no memory-retrieve consent.
func (s *DualStore) RecallByCue(cueID, requester, consentID string) []Anchor {
	if s.consent != nil && !s.consent.Check(requester, consent.KindMemoryRetrieve, consentID) {
		s.logger.Debug("memory.cue.refused", "cue", cueID, "requester", requester)
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cues[cueID]
	if !ok || !c.Enabled {
		return nil
	}
	return s.recallLocked([]string{c.Pattern})
}
