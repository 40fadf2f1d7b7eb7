// Package memory is a process-local implementation of the funnel, enrollment
// and contact repositories. It backs `storage.driver: memory` and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
)

type contact struct {
	model.Recipient
	Source    string
	OptedIn   bool
	Offering  string // set for course purchases
	CreatedAt time.Time
}

// Store keeps every record behind a single mutex, which makes each method
// atomic the same way a single SQL statement is. Funnels, Enrollments and
// Contacts expose the repository interfaces over the shared state.
type Store struct {
	mu          sync.Mutex
	funnels     map[string]model.Funnel
	steps       map[string][]model.Step // by funnel id
	enrollments map[string]*model.Enrollment
	byKey       map[string]string // funnel id + "\x00" + email -> enrollment id
	contacts    []contact

	Now func() time.Time
}

func New() *Store {
	return &Store{
		funnels:     make(map[string]model.Funnel),
		steps:       make(map[string][]model.Step),
		enrollments: make(map[string]*model.Enrollment),
		byKey:       make(map[string]string),
		Now:         time.Now,
	}
}

type (
	Funnels     struct{ *Store }
	Enrollments struct{ *Store }
	Contacts    struct{ *Store }
)

func (s *Store) Funnels() Funnels         { return Funnels{s} }
func (s *Store) Enrollments() Enrollments { return Enrollments{s} }
func (s *Store) Contacts() Contacts       { return Contacts{s} }

var (
	_ repository.FunnelsRepository     = Funnels{}
	_ repository.EnrollmentsRepository = Enrollments{}
	_ repository.ContactsRepository    = Contacts{}
	_ repository.ContactWriter         = Contacts{}
)

func key(funnelID, email string) string { return funnelID + "\x00" + email }

// ---- funnels ----

func (s Funnels) Create(_ context.Context, f model.Funnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funnels[f.ID] = f
	return nil
}

func (s Funnels) Get(_ context.Context, id string) (*model.Funnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.funnels[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (s Funnels) list(keep func(model.Funnel) bool) []model.Funnel {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Funnel
	for _, f := range s.funnels {
		if keep(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s Funnels) List(_ context.Context) ([]model.Funnel, error) {
	return s.list(func(model.Funnel) bool { return true }), nil
}

func (s Funnels) ListActive(_ context.Context) ([]model.Funnel, error) {
	return s.list(func(f model.Funnel) bool { return f.Active }), nil
}

func (s Funnels) ListActiveByTrigger(_ context.Context, trigger string) ([]model.Funnel, error) {
	return s.list(func(f model.Funnel) bool { return f.Active && f.Trigger == trigger }), nil
}

func (s Funnels) Update(_ context.Context, f model.Funnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.funnels[f.ID]
	if !ok {
		return nil
	}
	cur.Name, cur.Description, cur.Trigger, cur.ChainFunnelID, cur.UpdatedAt = f.Name, f.Description, f.Trigger, f.ChainFunnelID, f.UpdatedAt
	s.funnels[f.ID] = cur
	return nil
}

func (s Funnels) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.funnels[id]; ok {
		f.Active = active
		f.UpdatedAt = s.Now().UTC()
		s.funnels[id] = f
	}
	return nil
}

func (s Funnels) TouchProcessed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.funnels[id]; ok {
		f.LastProcessedAt = &at
		s.funnels[id] = f
	}
	return nil
}

func (s Funnels) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.funnels[id]; !ok {
		return repository.ErrNotFound
	}
	for eid, e := range s.enrollments {
		if e.FunnelID == id {
			delete(s.byKey, key(id, e.Email))
			delete(s.enrollments, eid)
		}
	}
	for fid, f := range s.funnels {
		if f.ChainFunnelID != nil && *f.ChainFunnelID == id {
			f.ChainFunnelID = nil
			s.funnels[fid] = f
		}
	}
	delete(s.steps, id)
	delete(s.funnels, id)
	return nil
}

// ---- steps ----

func (s Funnels) ListSteps(_ context.Context, funnelID string) ([]model.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]model.Step(nil), s.steps[funnelID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s Funnels) AddStep(_ context.Context, st *model.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[st.FunnelID]
	last := 0
	for _, x := range steps {
		if x.Index > last {
			last = x.Index
		}
	}
	switch {
	case st.Index <= 0:
		st.Index = last + 1
	case st.Index > last+1:
		return repository.ErrIndexGap
	}
	for _, x := range steps {
		if x.Index == st.Index {
			return repository.ErrDuplicate
		}
	}
	s.steps[st.FunnelID] = append(steps, *st)
	return nil
}

func (s Funnels) UpdateStep(_ context.Context, st model.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[st.FunnelID]
	for i := range steps {
		if steps[i].Index == st.Index {
			st.ID, st.CreatedAt = steps[i].ID, steps[i].CreatedAt
			steps[i] = st
		}
	}
	return nil
}

func (s Funnels) DeleteStep(_ context.Context, funnelID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[funnelID]
	for i := range steps {
		if steps[i].Index != index {
			continue
		}
		rest := append(steps[:i:i], steps[i+1:]...)
		for j := range rest {
			if rest[j].Index > index {
				rest[j].Index--
			}
		}
		s.steps[funnelID] = rest
		return nil
	}
	return repository.ErrNotFound
}

// ---- enrollments ----

func (s Enrollments) Insert(_ context.Context, e model.Enrollment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(e.FunnelID, e.Email)
	if _, ok := s.byKey[k]; ok {
		return false, nil
	}
	e.CurrentStep, e.SentCount, e.LastSentAt, e.Status = 0, 0, nil, model.EnrollmentActive
	s.enrollments[e.ID] = &e
	s.byKey[k] = e.ID
	return true, nil
}

func (s Enrollments) get(id string) (*model.Enrollment, bool) {
	e, ok := s.enrollments[id]
	return e, ok
}

func clone(e *model.Enrollment) *model.Enrollment {
	c := *e
	return &c
}

func (s Enrollments) Get(_ context.Context, id string) (*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(id)
	if !ok {
		return nil, nil
	}
	return clone(e), nil
}

func (s Enrollments) GetByEmail(_ context.Context, funnelID, email string) (*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key(funnelID, email)]
	if !ok {
		return nil, nil
	}
	return clone(s.enrollments[id]), nil
}

func (s Enrollments) ListActive(_ context.Context, funnelID string) ([]model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Enrollment
	for _, e := range s.enrollments {
		if e.FunnelID == funnelID && e.Status == model.EnrollmentActive {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s Enrollments) Claim(_ context.Context, id string, step int, token string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(id)
	if !ok || e.Status != model.EnrollmentActive || e.CurrentStep != step {
		return false, nil
	}
	if e.ClaimedUntil != nil && !e.ClaimedUntil.Before(now) {
		return false, nil
	}
	e.ClaimToken, e.ClaimedUntil, e.UpdatedAt = &token, &until, now
	return true, nil
}

func (s Enrollments) Advance(_ context.Context, id string, fromStep int, token string, status model.EnrollmentStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(id)
	if !ok || e.Status != model.EnrollmentActive || e.CurrentStep != fromStep || e.ClaimToken == nil || *e.ClaimToken != token {
		return false, nil
	}
	sent := now
	e.CurrentStep = fromStep + 1
	e.SentCount++
	e.LastSentAt = &sent
	e.Status = status
	e.ClaimToken, e.ClaimedUntil, e.UpdatedAt = nil, nil, now
	return true, nil
}

func (s Enrollments) Release(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.get(id); ok && e.ClaimToken != nil && *e.ClaimToken == token {
		e.ClaimToken, e.ClaimedUntil = nil, nil
	}
	return nil
}

func (s Enrollments) MarkCompleted(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.get(id); ok && e.Status == model.EnrollmentActive {
		e.Status, e.UpdatedAt = model.EnrollmentCompleted, now
	}
	return nil
}

func (s Enrollments) Unsubscribe(_ context.Context, funnelID, email string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key(funnelID, email)]
	if !ok {
		return false, nil
	}
	e := s.enrollments[id]
	if e.Status == model.EnrollmentUnsubscribed {
		return false, nil
	}
	e.Status, e.ClaimToken, e.ClaimedUntil, e.UpdatedAt = model.EnrollmentUnsubscribed, nil, nil, now
	return true, nil
}

func (s Enrollments) ListUnchained(_ context.Context, funnelID string, limit int) ([]model.Enrollment, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Enrollment
	for _, e := range s.enrollments {
		if e.FunnelID == funnelID && e.Status == model.EnrollmentCompleted && e.ChainedAt == nil {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s Enrollments) MarkChained(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.get(id); ok && e.ChainedAt == nil {
		e.ChainedAt = &at
	}
	return nil
}

func (s Enrollments) Stats(_ context.Context, funnelID string) (model.FunnelStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := model.FunnelStats{FunnelID: funnelID, ByStep: map[int]int{}}
	for _, e := range s.enrollments {
		if e.FunnelID != funnelID {
			continue
		}
		st.Add(e.Status, 1, e.SentCount)
		if e.Status == model.EnrollmentActive {
			st.ByStep[e.CurrentStep]++
		}
	}
	return st, nil
}

// ---- contacts ----

func (s Contacts) InsertContact(_ context.Context, r model.Recipient, source string, optedIn bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.Offering == "" && c.Email == r.Email && c.Source == source {
			return nil
		}
	}
	s.contacts = append(s.contacts, contact{Recipient: r, Source: source, OptedIn: optedIn, CreatedAt: at})
	return nil
}

func (s Contacts) InsertPurchase(_ context.Context, r model.Recipient, offering string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.Offering == offering && c.Email == r.Email {
			return nil
		}
	}
	s.contacts = append(s.contacts, contact{Recipient: r, Offering: offering, CreatedAt: at})
	return nil
}

func (s Contacts) Resolve(_ context.Context, f model.RecipientFilter) ([]model.Recipient, error) {
	s.mu.Lock()
	rows := append([]contact(nil), s.contacts...)
	now := s.Now().UTC()
	s.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	var keep func(c contact) bool
	switch f.Kind {
	case model.FilterAll, "":
		keep = func(contact) bool { return true }
	case model.FilterOptedIn:
		keep = func(c contact) bool { return c.Offering == "" && c.OptedIn }
	case model.FilterRecent:
		if f.Days <= 0 {
			return nil, fmt.Errorf("%w: recent filter: days must be positive", repository.ErrBadFilter)
		}
		since := now.Add(-time.Duration(f.Days) * 24 * time.Hour)
		keep = func(c contact) bool { return !c.CreatedAt.Before(since) }
	case model.FilterSource:
		src := strings.TrimSpace(f.Source)
		if src == "" {
			return nil, fmt.Errorf("%w: source filter: source is required", repository.ErrBadFilter)
		}
		keep = func(c contact) bool { return c.Offering == "" && c.Source == src }
	case model.FilterOffering:
		off := strings.TrimSpace(f.Offering)
		if off == "" {
			return nil, fmt.Errorf("%w: offering filter: offering is required", repository.ErrBadFilter)
		}
		keep = func(c contact) bool { return c.Offering == off }
	default:
		return nil, fmt.Errorf("%w: unknown filter kind %q", repository.ErrBadFilter, f.Kind)
	}

	var out []model.Recipient
	for _, c := range rows {
		if keep(c) {
			out = append(out, c.Recipient)
		}
	}
	return repository.Dedupe(out), nil
}
