// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides the dual memory store: an automatically decaying
// conversation thread plus opt-in, tag-indexed anchors that keep only a
// one-way digest of their content.
package memory

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/cgcs/pkg/consent"
	"github.com/jllopis/cgcs/pkg/core"
	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"
)

// DefaultThreadTurns is the default thread capacity.
const DefaultThreadTurns = 50

// Turn is one entry of the short-term thread.
type Turn struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
	Tags []string  `json:"tags,omitempty"`
}

// Anchor is an opt-in memory receipt. The content itself is never kept.
type Anchor struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Tags      []string  `json:"tags"`
	Digest    string    `json:"digest"`
	Weight    float64   `json:"weight"`
}

func (a *Anchor) hasAll(query []string) bool {
	for _, q := range query {
		i := sort.SearchStrings(a.Tags, q)
		if i == len(a.Tags) || a.Tags[i] != q {
			return false
		}
	}
	return true
}

func (a *Anchor) clone() Anchor {
	c := *a
	c.Tags = append([]string(nil), a.Tags...)
	return c
}

// ConsentChecker answers retrieval consent questions. *consent.Ledger
// satisfies it.
type ConsentChecker interface {
	Check(requester string, kind consent.Kind, id string) bool
}

// DualStore holds the thread and the anchor index. It is safe for concurrent
// use.
type DualStore struct {
	now     func() time.Time
	logger  *slog.Logger
	consent ConsentChecker
	key     [32]byte

	mu      sync.RWMutex
	thread  *core.Ring[Turn]
	anchors map[string]*Anchor
	byTag   map[string]map[string]struct{}
	cues    map[string]*Cue
	entropy io.Reader
}

// Option configures a DualStore.
type Option func(*DualStore)

// WithThreadTurns sets the thread capacity.
func WithThreadTurns(n int) Option {
	return func(s *DualStore) {
		if n > 0 {
			s.thread = core.NewRing[Turn](n)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *DualStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *DualStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConsent wires a consent checker used by RecallByCue.
func WithConsent(c ConsentChecker) Option {
	return func(s *DualStore) { s.consent = c }
}

// WithDigestKey fixes the digest key. Without it each store draws a random
// key, so digests are not comparable across stores.
func WithDigestKey(key [32]byte) Option {
	return func(s *DualStore) { s.key = key }
}

// NewDualStore creates an empty store.
func NewDualStore(opts ...Option) *DualStore {
	s := &DualStore{
		now:     time.Now,
		logger:  slog.Default(),
		thread:  core.NewRing[Turn](DefaultThreadTurns),
		anchors: make(map[string]*Anchor),
		byTag:   make(map[string]map[string]struct{}),
		cues:    make(map[string]*Cue),
	}
	if _, err := rand.Read(s.key[:]); err != nil {
		s.logger.Warn("memory.digest.key", "error", err)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entropy = ulid.Monotonic(rand.Reader, 0)
	return s
}

// RecordTurn appends to the thread. The oldest turn is evicted when full.
func (s *DualStore) RecordTurn(text string, tags []string) {
	t := Turn{At: s.now(), Text: text, Tags: normalizeTags(tags)}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thread.Push(t)
}

// Thread returns the thread, oldest first.
func (s *DualStore) Thread() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thread.Items()
}

// ThreadLen returns the number of turns held.
func (s *DualStore) ThreadLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thread.Len()
}

// AnchorOptIn stores a digest of content under tags. It returns nil unless
// allow is true and at least one tag is given.
func (s *DualStore) AnchorOptIn(owner string, tags []string, content string, allow bool) *Anchor {
	tags = normalizeTags(tags)
	if !allow || len(tags) == 0 {
		return nil
	}
	now := s.now()

	s.mu.Lock()
	a := &Anchor{
		ID:        ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		Owner:     owner,
		Timestamp: now,
		Tags:      tags,
		Digest:    s.digest(content),
		Weight:    1,
	}
	s.anchors[a.ID] = a
	for _, tag := range tags {
		set, ok := s.byTag[tag]
		if !ok {
			set = make(map[string]struct{})
			s.byTag[tag] = set
		}
		set[a.ID] = struct{}{}
	}
	out := a.clone()
	s.mu.Unlock()

	s.logger.Debug("memory.anchor.stored", "id", out.ID, "owner", owner, "tags", len(tags))
	return &out
}

func (s *DualStore) digest(content string) string {
	h, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		h = blake3.New()
	}
	_, _ = h.Write([]byte(content))
	return "H:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Recall returns anchors carrying every tag in query, newest first. An empty
// query matches nothing.
func (s *DualStore) Recall(query []string) []Anchor {
	query = normalizeTags(query)
	if len(query) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recallLocked(query)
}

func (s *DualStore) recallLocked(query []string) []Anchor {
	// Walk the smallest posting list.
	var smallest map[string]struct{}
	for i, q := range query {
		set := s.byTag[q]
		if len(set) == 0 {
			return nil
		}
		if i == 0 || len(set) < len(smallest) {
			smallest = set
		}
	}
	out := make([]Anchor, 0, len(smallest))
	for id := range smallest {
		if a, ok := s.anchors[id]; ok && a.hasAll(query) {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Get returns the anchor with id.
func (s *DualStore) Get(id string) (Anchor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anchors[id]
	if !ok {
		return Anchor{}, false
	}
	return a.clone(), true
}

// Forget removes one anchor and its tag index entries.
func (s *DualStore) Forget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.anchors[id]
	if !ok {
		return false
	}
	s.removeLocked(a)
	return true
}

// ForgetAll removes every anchor owned by owner, or every anchor when owner
// is empty. It returns the number removed.
func (s *DualStore) ForgetAll(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.anchors {
		if owner != "" && a.Owner != owner {
			continue
		}
		s.removeLocked(a)
		n++
	}
	if n > 0 {
		s.logger.Info("memory.forget.all", "owner", owner, "count", n)
	}
	return n
}

func (s *DualStore) removeLocked(a *Anchor) {
	for _, tag := range a.Tags {
		set := s.byTag[tag]
		delete(set, a.ID)
		if len(set) == 0 {
			delete(s.byTag, tag)
		}
	}
	delete(s.anchors, a.ID)
}

// Count returns the number of anchors owned by owner, or all anchors when
// owner is empty.
func (s *DualStore) Count(owner string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if owner == "" {
		return len(s.anchors)
	}
	n := 0
	for _, a := range s.anchors {
		if a.Owner == owner {
			n++
		}
	}
	return n
}

// IndexedTags returns the tags currently present in the index, sorted.
func (s *DualStore) IndexedTags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byTag))
	for tag := range s.byTag {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	n := 0
	for i, t := range out {
		if i > 0 && t == out[n-1] {
			continue
		}
		out[n] = t
		n++
	}
	return out[:n]
}
