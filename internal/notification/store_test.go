package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory TemplateStore, PreferenceStore and LedgerStore
type memStore struct {
	mu        sync.Mutex
	templates map[string]*NotificationTemplate
	prefs     map[int64]*Preference
	rows      map[int64]*Notification
	nextID    int64
	now       func() time.Time

	pendingErr error
	prefErr    error
	cleared    []string
}

func newMemStore(now func() time.Time) *memStore {
	s := &memStore{
		templates: make(map[string]*NotificationTemplate),
		prefs:     make(map[int64]*Preference),
		rows:      make(map[int64]*Notification),
		now:       now,
	}
	for i, t := range DefaultTemplates() {
		t.ID = int64(i + 1)
		t.IsActive = true
		s.templates[t.Type] = t
	}
	return s
}

func (s *memStore) GetByType(ctx context.Context, notificationType string) (*NotificationTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[notificationType]
	if !ok || !t.IsActive {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ListActive(ctx context.Context) ([]*NotificationTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*NotificationTemplate
	for _, t := range s.templates {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) CreateTemplate(ctx context.Context, tmpl *NotificationTemplate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tmpl.Type]; ok {
		return false, nil
	}
	tmpl.ID = int64(len(s.templates) + 1)
	s.templates[tmpl.Type] = tmpl
	return true, nil
}

func (s *memStore) GetPreference(ctx context.Context, userID int64) (*Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefErr != nil {
		return nil, s.prefErr
	}
	p, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) UpsertPreference(ctx context.Context, userID int64, update PreferenceUpdate) (*Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		def := DefaultPreference(userID)
		p = &def
		s.prefs[userID] = p
	}
	update.Apply(p)
	cp := *p
	return &cp, nil
}

func (s *memStore) SetPushToken(ctx context.Context, userID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		def := DefaultPreference(userID)
		p = &def
		s.prefs[userID] = p
	}
	at := s.now()
	p.PushToken = &token
	p.PushTokenUpdatedAt = &at
	return nil
}

func (s *memStore) ClearPushToken(ctx context.Context, userID int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok || p.PushToken == nil || *p.PushToken != token {
		return false, nil
	}
	p.PushToken = nil
	s.cleared = append(s.cleared, token)
	return true, nil
}

func (s *memStore) Insert(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	n.ID = s.nextID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	cp := *n
	s.rows[n.ID] = &cp
	return nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id int64, status DeliveryStatus, errMsg *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok || !n.DeliveryStatus.CanTransition(status) {
		return ErrInvalidTransition
	}
	n.DeliveryStatus = status
	n.ErrorMessage = errMsg
	switch status {
	case StatusSent:
		n.SentAt = &at
	case StatusDelivered:
		n.DeliveredAt = &at
	}
	return nil
}

func (s *memStore) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (s *memStore) Pending(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	var due []*Notification
	for _, n := range s.rows {
		settled := !n.CreatedAt.After(now.Add(-grace))
		deferred := n.ScheduledFor != nil && !n.ScheduledFor.Before(n.CreatedAt.Add(grace))
		if n.DeliveryStatus == StatusPending && n.IsDue(now) && (settled || deferred) {
			cp := *n
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) MarkOpened(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.touch(id, func(n *Notification) **time.Time { return &n.OpenedAt }, at)
}

func (s *memStore) MarkActionTaken(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.touch(id, func(n *Notification) **time.Time { return &n.ActionTakenAt }, at)
}

func (s *memStore) touch(id int64, field func(*Notification) **time.Time, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	if f := field(n); *f == nil {
		*f = &at
	}
	return true, nil
}

func (s *memStore) History(ctx context.Context, userID int64, limit, offset int) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Notification
	for _, n := range s.rows {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, n := range s.rows {
		if n.CreatedAt.Before(cutoff) && n.DeliveryStatus != StatusPending {
			delete(s.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) setPreference(p Preference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = &p
}

func (s *memStore) row(id int64) *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// memThrottle is an in-memory ThrottleStore
type memThrottle struct {
	mu       sync.Mutex
	counts   map[throttleKey]int
	countErr error
	incrErr  error
}

type throttleKey struct {
	userID int64
	day    string
	typ    string
}

func newMemThrottle() *memThrottle {
	return &memThrottle{counts: make(map[throttleKey]int)}
}

func (m *memThrottle) Counts(ctx context.Context, userID int64, notificationType, day string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, 0, m.countErr
	}
	typeCount, total := 0, 0
	for k, v := range m.counts {
		if k.userID != userID || k.day != day {
			continue
		}
		total += v
		if k.typ == notificationType {
			typeCount = v
		}
	}
	return typeCount, total, nil
}

func (m *memThrottle) Increment(ctx context.Context, userID int64, notificationType, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrErr != nil {
		return m.incrErr
	}
	m.counts[throttleKey{userID, day, notificationType}]++
	return nil
}

func (m *memThrottle) DeleteOlderThan(ctx context.Context, day string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for k := range m.counts {
		if k.day < day {
			delete(m.counts, k)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memThrottle) set(userID int64, notificationType, day string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[throttleKey{userID, day, notificationType}] = n
}

func (m *memThrottle) get(userID int64, notificationType, day string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[throttleKey{userID, day, notificationType}]
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
