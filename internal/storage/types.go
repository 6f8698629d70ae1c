package storage

import (
	"context"
	"errors"
	"time"

	"touchbase/internal/checkin"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid record")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps, nothing persisted
//   - "sqlite": SQLite database file at Path
//   - "badger": BadgerDB directory at Path (InMemory when Path is empty)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// CheckInFilter selects check-ins. Zero-valued fields don't filter.
type CheckInFilter struct {
	OwnerID   string
	ContactID string
	Statuses  []checkin.Status

	// Before keeps rows with Date < Before; After keeps rows with Date > After.
	Before time.Time
	After  time.Time
}

// Transition moves the listed rows to To. A nil IDs slice means every row
// matching the enclosing BulkUpdate condition.
type Transition struct {
	To  checkin.Status
	IDs []string
}

// BulkUpdate is a conditional update executed atomically by the store:
//
//	set status=<To> where owner=OwnerID and status=From and date<Before
//	  [and id in IDs]
//
// Rows whose persisted state changed since they were read are skipped, which
// keeps concurrent or repeated runs safe.
type BulkUpdate struct {
	OwnerID     string
	From        checkin.Status
	Before      time.Time
	At          time.Time
	Transitions []Transition
}

// Store is the data-store collaborator used by the engine.
type Store interface {
	Owners(ctx context.Context) ([]string, error)

	ListContacts(ctx context.Context, owner string) ([]checkin.Contact, error)
	GetContact(ctx context.Context, owner, id string) (checkin.Contact, error)
	InsertContact(ctx context.Context, c checkin.Contact) (checkin.Contact, error)
	UpdateContact(ctx context.Context, c checkin.Contact) (checkin.Contact, error)
	DeleteContact(ctx context.Context, owner, id string) error

	ListCheckIns(ctx context.Context, f CheckInFilter) ([]checkin.CheckIn, error)
	GetCheckIn(ctx context.Context, owner, id string) (checkin.CheckIn, error)
	InsertCheckIn(ctx context.Context, c checkin.CheckIn) (checkin.CheckIn, error)
	UpdateCheckIn(ctx context.Context, c checkin.CheckIn) (checkin.CheckIn, error)
	DeleteCheckIn(ctx context.Context, owner, id string) error

	// ApplyBulk runs every transition of u in one atomic operation and
	// returns the number of rows moved per target status.
	ApplyBulk(ctx context.Context, u BulkUpdate) (map[checkin.Status]int, error)

	GetFeedToken(ctx context.Context, owner string) (checkin.FeedToken, error)
	// PutFeedToken replaces the owner's token; the previous token stops
	// resolving immediately.
	PutFeedToken(ctx context.Context, t checkin.FeedToken) error
	// AddFeedToken stores t only if the owner has no token yet and returns
	// whichever token the owner holds afterwards.
	AddFeedToken(ctx context.Context, t checkin.FeedToken) (checkin.FeedToken, error)
	OwnerForFeedToken(ctx context.Context, token string) (string, error)

	Close() error
}

// MarkMissed is the canonical reconciliation update: every
// Scheduled row of owner dated before now becomes Missed.
func MarkMissed(ctx context.Context, s Store, owner string, now time.Time) (int, error) {
	if s == nil {
		return 0, ErrDisabled
	}
	res, err := s.ApplyBulk(ctx, BulkUpdate{
		OwnerID:     owner,
		From:        checkin.Scheduled,
		Before:      now,
		At:          now,
		Transitions: []Transition{{To: checkin.Missed}},
	})
	if err != nil {
		return 0, err
	}
	return res[checkin.Missed], nil
}

func (f CheckInFilter) match(c checkin.CheckIn) bool {
	if f.OwnerID != "" && c.OwnerID != f.OwnerID {
		return false
	}
	if f.ContactID != "" && c.ContactID != f.ContactID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if c.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.Before.IsZero() && !c.Date.Before(f.Before) {
		return false
	}
	if !f.After.IsZero() && !c.Date.After(f.After) {
		return false
	}
	return true
}

func validateCheckIn(c checkin.CheckIn) error {
	if c.ID == "" || c.OwnerID == "" || c.ContactID == "" {
		return errors.Join(ErrInvalid, errors.New("check-in id, owner and contact are required"))
	}
	if !c.Status.Valid() {
		return errors.Join(ErrInvalid, errors.New("unknown status "+string(c.Status)))
	}
	if c.Date.IsZero() {
		return errors.Join(ErrInvalid, errors.New("check-in date is required"))
	}
	return nil
}

func validateContact(c checkin.Contact) error {
	if c.ID == "" || c.OwnerID == "" {
		return errors.Join(ErrInvalid, errors.New("contact id and owner are required"))
	}
	return nil
}

// idSet returns nil for a nil slice so callers can distinguish "all rows".
func idSet(ids []string) map[string]struct{} {
	if ids == nil {
		return nil
	}
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
