// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package consent implements the refusal-first consent ledger.
//
// Every check defaults to false. A requester is authorized only by a record
// that was explicitly granted and has not been denied, revoked or expired.
package consent

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	kerrors "github.com/jllopis/cgcs/pkg/errors"
)

// Kind is the operation class a consent record authorizes.
type Kind string

const (
	KindAction         Kind = "action"
	KindMemoryStore    Kind = "memory-store"
	KindMemoryRetrieve Kind = "memory-retrieve"
	KindRoleAssignment Kind = "role-assignment"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAction, KindMemoryStore, KindMemoryRetrieve, KindRoleAssignment:
		return true
	}
	return false
}

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
	StatusExpired Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusExpired
}

// Record is a single consent request and its outcome.
type Record struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Requester   string    `json:"requester"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

func (r *Record) expiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

type scope struct {
	requester string
	kind      Kind
}

// Stats summarizes ledger activity for dashboards.
type Stats struct {
	Total     int     `json:"total"`
	Pending   int     `json:"pending"`
	Granted   int     `json:"granted"`
	Denied    int     `json:"denied"`
	Expired   int     `json:"expired"`
	Scopes    int     `json:"scopes"`
	GrantRate float64 `json:"grant_rate"`
}

// Ledger stores consent records. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*Record
	// scopes counts granted, unexpired records backing each (requester, kind).
	scopes map[scope]int
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for ledger events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		records: make(map[string]*Record),
		scopes:  make(map[scope]int),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Request creates a pending record. An empty id is replaced by a generated
// one; a duplicate id is a caller fault. A zero expiresAt never expires.
func (l *Ledger) Request(id string, kind Kind, requester, description string, expiresAt time.Time) (Record, error) {
	if !kind.Valid() {
		return Record{}, kerrors.New(kerrors.CodeInvalidInput, "unknown consent kind", nil).
			WithContext("kind", string(kind))
	}
	if requester == "" {
		return Record{}, kerrors.New(kerrors.CodeInvalidInput, "requester is required", nil)
	}
	if id == "" {
		id = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[id]; exists {
		return Record{}, kerrors.New(kerrors.CodeAlreadyExists, "consent id already requested", nil).
			WithContext("id", id)
	}
	now := l.now()
	rec := &Record{
		ID:          id,
		Kind:        kind,
		Requester:   requester,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	l.records[id] = rec
	l.logger.Debug("consent.requested",
		slog.String("id", id),
		slog.String("kind", string(kind)),
		slog.String("requester", requester),
	)
	return *rec, nil
}

// Grant moves a pending record to granted and authorizes its scope. Granting
// an already-granted record is a no-op that returns true. Unknown, denied
// and expired records return false.
func (l *Ledger) Grant(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return false
	}
	now := l.now()
	l.expireLocked(rec, now)
	switch rec.Status {
	case StatusGranted:
		return true
	case StatusPending:
		rec.Status = StatusGranted
		rec.UpdatedAt = now
		l.scopes[scope{rec.Requester, rec.Kind}]++
		l.logger.Info("consent.granted",
			slog.String("id", id),
			slog.String("kind", string(rec.Kind)),
			slog.String("requester", rec.Requester),
		)
		return true
	default:
		return false
	}
}

// Deny moves a pending or granted record to denied. It returns false only for
// unknown ids or already expired records.
func (l *Ledger) Deny(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return false
	}
	l.expireLocked(rec, l.now())
	if rec.Status == StatusExpired {
		return false
	}
	l.denyLocked(rec)
	return true
}

// Revoke withdraws a record: its scope is dropped if it was granted and its
// status becomes denied. Revoking twice returns true both times.
func (l *Ledger) Revoke(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return false
	}
	if rec.Status == StatusExpired {
		return true
	}
	l.denyLocked(rec)
	return true
}

func (l *Ledger) denyLocked(rec *Record) {
	if rec.Status == StatusDenied {
		return
	}
	if rec.Status == StatusGranted {
		l.dropScopeLocked(rec)
	}
	rec.Status = StatusDenied
	rec.UpdatedAt = l.now()
	l.logger.Info("consent.denied",
		slog.String("id", rec.ID),
		slog.String("kind", string(rec.Kind)),
		slog.String("requester", rec.Requester),
	)
}

// Check reports whether requester holds consent of the given kind. With an id
// the specific record decides (and is expired lazily); without one the
// granted scope set decides. Absence of a record is always a denial.
func (l *Ledger) Check(requester string, kind Kind, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id != "" {
		rec, ok := l.records[id]
		if !ok {
			return false
		}
		if l.expireLocked(rec, l.now()) {
			return false
		}
		return rec.Status == StatusGranted && rec.Requester == requester && rec.Kind == kind
	}
	// Ambient scopes can be stale when a backing grant expired without a sweep.
	s := scope{requester, kind}
	if l.scopes[s] == 0 {
		return false
	}
	now := l.now()
	for _, rec := range l.records {
		if rec.Requester == requester && rec.Kind == kind && rec.Status == StatusGranted {
			l.expireLocked(rec, now)
		}
	}
	return l.scopes[s] > 0
}

// expireLocked flips an overdue pending or granted record to expired and
// reports whether it did so (or had already been expired).
func (l *Ledger) expireLocked(rec *Record, now time.Time) bool {
	if rec.Status == StatusExpired {
		return true
	}
	if rec.Status == StatusDenied || !rec.expiredAt(now) {
		return false
	}
	if rec.Status == StatusGranted {
		l.dropScopeLocked(rec)
	}
	rec.Status = StatusExpired
	rec.UpdatedAt = now
	return true
}

func (l *Ledger) dropScopeLocked(rec *Record) {
	s := scope{rec.Requester, rec.Kind}
	if l.scopes[s] <= 1 {
		delete(l.scopes, s)
		return
	}
	l.scopes[s]--
}

// SweepExpired expires every overdue record and returns how many changed.
// Calling it again without time passing returns zero.
func (l *Ledger) SweepExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	count := 0
	for _, rec := range l.records {
		if rec.Status == StatusExpired || rec.Status == StatusDenied {
			continue
		}
		if l.expireLocked(rec, now) {
			count++
		}
	}
	if count > 0 {
		l.logger.Info("consent.expired", slog.Int("count", count))
	}
	return count
}

// ExpireConsents adapts SweepExpired for the kernel's background sweeper.
func (l *Ledger) ExpireConsents(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return l.SweepExpired(), nil
}

// Get returns a copy of a record.
func (l *Ledger) Get(id string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return Record{}, kerrors.New(kerrors.CodeNotFound, "consent record not found", nil).
			WithContext("id", id)
	}
	l.expireLocked(rec, l.now())
	return *rec, nil
}

// Pending returns copies of all pending records, oldest first.
func (l *Ledger) Pending() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	out := make([]Record, 0)
	for _, rec := range l.records {
		if l.expireLocked(rec, now) || rec.Status != StatusPending {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats returns record counts by status and the share of decided records that
// were granted.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	var st Stats
	for _, rec := range l.records {
		st.Total++
		switch rec.Status {
		case StatusPending:
			st.Pending++
		case StatusGranted:
			st.Granted++
		case StatusDenied:
			st.Denied++
		case StatusExpired:
			st.Expired++
		}
	}
	st.Scopes = len(l.scopes)
	if decided := st.Total - st.Pending; decided > 0 {
		st.GrantRate = float64(st.Granted) / float64(decided)
	}
	return st
}
