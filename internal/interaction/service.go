// Package interaction is the write side of the check-in model: scheduling,
// completing, overriding and suggesting check-ins, and keeping each contact's
// LastInteraction and NextDue in step.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"touchbase/internal/checkin"
	"touchbase/internal/clock"
	"touchbase/internal/eventbus"
	"touchbase/internal/recurrence"
	"touchbase/internal/status"
	"touchbase/internal/storage"
	logx "touchbase/pkg/logx"
)

var (
	// ErrInvalidStatus is returned when a status does not fit the check-in's
	// date (e.g. Missed for a future date).
	ErrInvalidStatus = errors.New("status not valid for check-in date")
	ErrFutureDate    = errors.New("cannot complete a future check-in")
	ErrNoContact     = errors.New("unknown contact")
)

type Service struct {
	store storage.Store
	clock clock.Clock
	loc   *time.Location
	bus   eventbus.Bus
	log   logx.Logger

	newID func() string
}

func New(store storage.Store, clk clock.Clock, loc *time.Location, bus eventbus.Bus, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store: store,
		clock: clock.Or(clk),
		loc:   loc,
		bus:   bus,
		log:   log.With(logx.String("comp", "interaction")),
		newID: uuid.NewString,
	}
}

// ScheduleRequest describes a new check-in.
type ScheduleRequest struct {
	ContactID string
	Date      time.Time
	Type      checkin.Type // defaults to planned
	Notes     string
}

// Schedule stores a new check-in for an existing contact. Anything after
// now is Scheduled. A timestamp already passed is logged as history: earlier
// today is Completed (and moves the contact's LastInteraction), an earlier
// day is Missed.
func (s *Service) Schedule(ctx context.Context, owner string, req ScheduleRequest) (checkin.CheckIn, error) {
	if req.Type == "" {
		req.Type = checkin.Planned
	}
	if !req.Type.Valid() {
		return checkin.CheckIn{}, fmt.Errorf("%w: unknown type %q", storage.ErrInvalid, req.Type)
	}
	if req.Date.IsZero() {
		return checkin.CheckIn{}, fmt.Errorf("%w: date is required", storage.ErrInvalid)
	}
	now := s.clock.Now()
	st := checkin.Scheduled
	if !req.Date.After(now) {
		st, _ = status.Determine(req.Date, now, s.loc)
	}
	if _, err := s.contact(ctx, owner, req.ContactID); err != nil {
		return checkin.CheckIn{}, err
	}

	ci, err := s.store.InsertCheckIn(ctx, checkin.CheckIn{
		ID:        s.newID(),
		OwnerID:   owner,
		ContactID: req.ContactID,
		Date:      req.Date,
		Status:    st,
		Type:      req.Type,
		Notes:     strings.TrimSpace(req.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return checkin.CheckIn{}, err
	}
	s.publish(eventbus.CheckInChanged, owner, ci)
	if st == checkin.Completed {
		if _, err := s.RecordInteraction(ctx, owner, ci.ContactID, ci.Date); err != nil {
			return ci, err
		}
	}
	return ci, nil
}

// Complete marks a check-in Completed and moves the contact's
// LastInteraction to the check-in date. Future check-ins are rejected.
func (s *Service) Complete(ctx context.Context, owner, id string) (checkin.CheckIn, error) {
	ci, err := s.store.GetCheckIn(ctx, owner, id)
	if err != nil {
		return checkin.CheckIn{}, err
	}
	now := s.clock.Now()
	if status.Day(ci.Date, s.loc).After(status.Day(now, s.loc)) {
		return checkin.CheckIn{}, ErrFutureDate
	}
	return s.setStatus(ctx, ci, checkin.Completed, now)
}

// SetStatus applies a user's explicit status choice and marks the row
// manual. A row put back to Scheduled is still swept once its date passes.
//
// Accepted combinations:
//
//	Scheduled  date after now
//	Completed  date on or before today
//	Missed     date before today
func (s *Service) SetStatus(ctx context.Context, owner, id string, to checkin.Status) (checkin.CheckIn, error) {
	if !to.Valid() {
		return checkin.CheckIn{}, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	ci, err := s.store.GetCheckIn(ctx, owner, id)
	if err != nil {
		return checkin.CheckIn{}, err
	}
	now := s.clock.Now()
	if err := s.allowed(ci.Date, to, now); err != nil {
		return checkin.CheckIn{}, err
	}
	return s.setStatus(ctx, ci, to, now)
}

func (s *Service) allowed(date time.Time, to checkin.Status, now time.Time) error {
	day, today := status.Day(date, s.loc), status.Day(now, s.loc)
	var ok bool
	switch to {
	case checkin.Scheduled:
		ok = date.After(now)
	case checkin.Completed:
		ok = !day.After(today)
	case checkin.Missed:
		ok = day.Before(today)
	}
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrInvalidStatus, to, date.In(s.loc).Format("2006-01-02"))
	}
	return nil
}

func (s *Service) setStatus(ctx context.Context, ci checkin.CheckIn, to checkin.Status, now time.Time) (checkin.CheckIn, error) {
	ci.Status = to
	ci.Manual = true
	ci.UpdatedAt = now
	ci, err := s.store.UpdateCheckIn(ctx, ci)
	if err != nil {
		return checkin.CheckIn{}, err
	}
	s.publish(eventbus.CheckInChanged, ci.OwnerID, ci)

	if to == checkin.Completed {
		if _, err := s.RecordInteraction(ctx, ci.OwnerID, ci.ContactID, ci.Date); err != nil {
			if errors.Is(err, ErrNoContact) {
				// contact was deleted; the check-in still counts
				s.log.Warn("completed check-in for unknown contact",
					logx.String("owner", ci.OwnerID), logx.String("contact", ci.ContactID))
				return ci, nil
			}
			return ci, err
		}
	}
	return ci, nil
}

// RecordInteraction sets the contact's LastInteraction to at (unless a later
// interaction is already recorded) and recomputes NextDue.
func (s *Service) RecordInteraction(ctx context.Context, owner, contactID string, at time.Time) (checkin.Contact, error) {
	c, err := s.contact(ctx, owner, contactID)
	if err != nil {
		return checkin.Contact{}, err
	}
	if c.LastInteraction != nil && c.LastInteraction.After(at) {
		at = *c.LastInteraction
	}
	if !recurrence.Known(c.Frequency) {
		s.log.Warn("unknown contact frequency, using monthly",
			logx.String("owner", owner), logx.String("contact", c.ID), logx.String("frequency", string(c.Frequency)))
	}
	next := recurrence.NextDue(c.Frequency, at)
	c.LastInteraction = &at
	c.NextDue = &next
	c, err = s.store.UpdateContact(ctx, c)
	if err != nil {
		return checkin.Contact{}, err
	}
	s.publish(eventbus.ContactChanged, owner, c)
	return c, nil
}

// SetFrequency changes a contact's cadence and recomputes NextDue from its
// last interaction (or now when there is none).
func (s *Service) SetFrequency(ctx context.Context, owner, contactID string, freq checkin.Frequency) (checkin.Contact, error) {
	c, err := s.contact(ctx, owner, contactID)
	if err != nil {
		return checkin.Contact{}, err
	}
	c.Frequency = freq
	next := recurrence.NextDueFrom(freq, c.LastInteraction, s.clock.Now())
	c.NextDue = &next
	c, err = s.store.UpdateContact(ctx, c)
	if err != nil {
		return checkin.Contact{}, err
	}
	s.publish(eventbus.ContactChanged, owner, c)
	return c, nil
}

func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if err := s.store.DeleteCheckIn(ctx, owner, id); err != nil {
		return err
	}
	s.publish(eventbus.CheckInChanged, owner, id)
	return nil
}

// SuggestDue creates a suggested check-in for every contact that has a due
// date and no pending Scheduled check-in. Overdue contacts are suggested for
// tomorrow so the new row is always Scheduled.
func (s *Service) SuggestDue(ctx context.Context, owner string) ([]checkin.CheckIn, error) {
	contacts, err := s.store.ListContacts(ctx, owner)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListCheckIns(ctx, storage.CheckInFilter{
		OwnerID:  owner,
		Statuses: []checkin.Status{checkin.Scheduled},
	})
	if err != nil {
		return nil, err
	}
	has := make(map[string]bool, len(pending))
	for _, ci := range pending {
		has[ci.ContactID] = true
	}

	now := s.clock.Now()
	tomorrow := status.Day(now, s.loc).AddDate(0, 0, 1)
	var created []checkin.CheckIn
	for _, c := range contacts {
		if c.NextDue == nil || c.NextDue.IsZero() || has[c.ID] {
			continue
		}
		date := *c.NextDue
		if date.Before(tomorrow) {
			date = tomorrow
		}
		ci, err := s.store.InsertCheckIn(ctx, checkin.CheckIn{
			ID:        s.newID(),
			OwnerID:   owner,
			ContactID: c.ID,
			Date:      date,
			Status:    checkin.Scheduled,
			Type:      checkin.Suggested,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return created, fmt.Errorf("suggest for %s: %w", c.ID, err)
		}
		created = append(created, ci)
	}
	if len(created) > 0 {
		s.log.Info("suggested check-ins", logx.String("owner", owner), logx.Int("count", len(created)))
		s.publish(eventbus.CheckInChanged, owner, len(created))
	}
	return created, nil
}

// Watch runs SuggestDue after every completed reconciliation until ctx is
// done. Failures are logged.
func (s *Service) Watch(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64, eventbus.ReconcileCompleted)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if e.OwnerID == "" {
				continue
			}
			if _, err := s.SuggestDue(ctx, e.OwnerID); err != nil {
				s.log.Warn("suggest failed", logx.String("owner", e.OwnerID), logx.Err(err))
			}
		}
	}
}

func (s *Service) contact(ctx context.Context, owner, id string) (checkin.Contact, error) {
	if strings.TrimSpace(id) == "" {
		return checkin.Contact{}, ErrNoContact
	}
	c, err := s.store.GetContact(ctx, owner, id)
	if errors.Is(err, storage.ErrNotFound) {
		return checkin.Contact{}, fmt.Errorf("%w: %s", ErrNoContact, id)
	}
	return c, err
}

func (s *Service) publish(typ, owner string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, OwnerID: owner, Time: s.clock.Now(), Data: data})
}
