package storage

import (
	"context"
	"sort"
	"sync"

	"touchbase/internal/checkin"
)

type memoryStore struct {
	mu sync.RWMutex

	contacts map[string]checkin.Contact // key: owner/id
	checkIns map[string]checkin.CheckIn // key: owner/id
	tokens   map[string]checkin.FeedToken
	byToken  map[string]string
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		contacts: map[string]checkin.Contact{},
		checkIns: map[string]checkin.CheckIn{},
		tokens:   map[string]checkin.FeedToken{},
		byToken:  map[string]string{},
	}
}

func key(owner, id string) string { return owner + "/" + id }

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) Owners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, c := range s.contacts {
		seen[c.OwnerID] = struct{}{}
	}
	for _, c := range s.checkIns {
		seen[c.OwnerID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) ListContacts(ctx context.Context, owner string) ([]checkin.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]checkin.Contact, 0)
	for _, c := range s.contacts {
		if c.OwnerID == owner {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) GetContact(ctx context.Context, owner, id string) (checkin.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[key(owner, id)]
	if !ok {
		return checkin.Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) InsertContact(ctx context.Context, c checkin.Contact) (checkin.Contact, error) {
	if err := validateContact(c); err != nil {
		return checkin.Contact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[key(c.OwnerID, c.ID)] = c
	return c, nil
}

func (s *memoryStore) UpdateContact(ctx context.Context, c checkin.Contact) (checkin.Contact, error) {
	if err := validateContact(c); err != nil {
		return checkin.Contact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(c.OwnerID, c.ID)
	if _, ok := s.contacts[k]; !ok {
		return checkin.Contact{}, ErrNotFound
	}
	s.contacts[k] = c
	return c, nil
}

func (s *memoryStore) DeleteContact(ctx context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(owner, id)
	if _, ok := s.contacts[k]; !ok {
		return ErrNotFound
	}
	delete(s.contacts, k)
	return nil
}

func (s *memoryStore) ListCheckIns(ctx context.Context, f CheckInFilter) ([]checkin.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]checkin.CheckIn, 0)
	for _, c := range s.checkIns {
		if f.match(c) {
			out = append(out, c)
		}
	}
	sortCheckIns(out)
	return out, nil
}

func (s *memoryStore) GetCheckIn(ctx context.Context, owner, id string) (checkin.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkIns[key(owner, id)]
	if !ok {
		return checkin.CheckIn{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) InsertCheckIn(ctx context.Context, c checkin.CheckIn) (checkin.CheckIn, error) {
	if err := validateCheckIn(c); err != nil {
		return checkin.CheckIn{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkIns[key(c.OwnerID, c.ID)] = c
	return c, nil
}

func (s *memoryStore) UpdateCheckIn(ctx context.Context, c checkin.CheckIn) (checkin.CheckIn, error) {
	if err := validateCheckIn(c); err != nil {
		return checkin.CheckIn{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(c.OwnerID, c.ID)
	if _, ok := s.checkIns[k]; !ok {
		return checkin.CheckIn{}, ErrNotFound
	}
	s.checkIns[k] = c
	return c, nil
}

func (s *memoryStore) DeleteCheckIn(ctx context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(owner, id)
	if _, ok := s.checkIns[k]; !ok {
		return ErrNotFound
	}
	delete(s.checkIns, k)
	return nil
}

func (s *memoryStore) ApplyBulk(ctx context.Context, u BulkUpdate) (map[checkin.Status]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := map[checkin.Status]int{}
	s.mu.Lock()
	defer s.mu.Unlock()
	cond := CheckInFilter{OwnerID: u.OwnerID, Statuses: []checkin.Status{u.From}, Before: u.Before}
	for _, tr := range u.Transitions {
		ids := idSet(tr.IDs)
		for k, c := range s.checkIns {
			if !cond.match(c) {
				continue
			}
			if ids != nil {
				if _, ok := ids[c.ID]; !ok {
					continue
				}
			}
			c.Status = tr.To
			if !u.At.IsZero() {
				c.UpdatedAt = u.At
			}
			s.checkIns[k] = c
			res[tr.To]++
		}
	}
	return res, nil
}

func (s *memoryStore) GetFeedToken(ctx context.Context, owner string) (checkin.FeedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[owner]
	if !ok {
		return checkin.FeedToken{}, ErrNotFound
	}
	return t, nil
}

func (s *memoryStore) PutFeedToken(ctx context.Context, t checkin.FeedToken) error {
	if t.OwnerID == "" || t.Token == "" {
		return ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tokens[t.OwnerID]; ok {
		delete(s.byToken, prev.Token)
	}
	s.tokens[t.OwnerID] = t
	s.byToken[t.Token] = t.OwnerID
	return nil
}

func (s *memoryStore) AddFeedToken(ctx context.Context, t checkin.FeedToken) (checkin.FeedToken, error) {
	if t.OwnerID == "" || t.Token == "" {
		return checkin.FeedToken{}, ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tokens[t.OwnerID]; ok {
		return prev, nil
	}
	s.tokens[t.OwnerID] = t
	s.byToken[t.Token] = t.OwnerID
	return t, nil
}

func (s *memoryStore) OwnerForFeedToken(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byToken[token]
	if !ok {
		return "", ErrNotFound
	}
	return o, nil
}

// sortCheckIns orders by date, then ID, so every driver lists identically.
func sortCheckIns(out []checkin.CheckIn) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
}
