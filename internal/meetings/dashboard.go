package meetings

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"touchbase/internal/checkin"
	"touchbase/internal/storage"
)

// Dashboard is the read view served to an owner.
type Dashboard struct {
	OwnerID     string            `json:"owner_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Next        Upcoming          `json:"next"`
	Missed      []checkin.CheckIn `json:"missed"`
	// Names maps contact IDs referenced above to display names.
	Names map[string]string `json:"names"`
	// Due lists contacts whose next due date has passed.
	Due []checkin.Contact `json:"due"`
}

// Build loads owner's check-ins and contacts concurrently and aggregates
// them.
func Build(ctx context.Context, st storage.Store, owner string, now time.Time, loc *time.Location) (Dashboard, error) {
	var (
		checkIns []checkin.CheckIn
		contacts []checkin.Contact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		checkIns, err = st.ListCheckIns(gctx, storage.CheckInFilter{
			OwnerID:  owner,
			Statuses: []checkin.Status{checkin.Scheduled, checkin.Missed},
		})
		return err
	})
	g.Go(func() error {
		var err error
		contacts, err = st.ListContacts(gctx, owner)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		OwnerID:     owner,
		GeneratedAt: now,
		Next:        Next(checkIns, now, loc),
		Missed:      Missed(checkIns, now, loc),
		Names:       make(map[string]string, len(contacts)),
		Due:         []checkin.Contact{},
	}
	for _, c := range contacts {
		d.Names[c.ID] = c.Name
		if c.NextDue != nil && !c.NextDue.After(now) {
			d.Due = append(d.Due, c)
		}
	}
	return d, nil
}
