// Package feed publishes an owner's check-ins as an iCalendar (RFC 5545)
// subscription feed addressed by an opaque per-owner token.
package feed

import (
	"context"
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"golang.org/x/sync/errgroup"

	"touchbase/internal/checkin"
	"touchbase/internal/clock"
	"touchbase/internal/storage"
)

const (
	DefaultLabel    = "Check-in"
	DefaultName     = "Check-ins"
	DefaultProdID   = "-//touchbase//check-in feed//EN"
	DefaultUIDHost  = "touchbase"
	EventDuration   = time.Hour
	unknownContact  = "Unknown contact"
	contentTypeICal = "text/calendar; charset=utf-8"
)

// ContentType is the media type served for feeds.
func ContentType() string { return contentTypeICal }

// Calendar holds the presentation settings of one rendered feed.
type Calendar struct {
	Name     string
	ProdID   string
	Label    string // interaction term used in event summaries
	UIDHost  string
	Location *time.Location
	Now      time.Time // DTSTAMP for every event
}

func (c Calendar) withDefaults() Calendar {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = DefaultName
	}
	if c.ProdID == "" {
		c.ProdID = DefaultProdID
	}
	if strings.TrimSpace(c.Label) == "" {
		c.Label = DefaultLabel
	}
	if c.UIDHost == "" {
		c.UIDHost = DefaultUIDHost
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now.IsZero() {
		c.Now = time.Now()
	}
	return c
}

// Generate writes an RFC 5545 calendar with one VEVENT per dated
// check-in, in input order, each lasting EventDuration. Check-ins with a
// zero date cannot be placed on a calendar and are left out, so the output
// has exactly one event for every check-in that has a date.
func Generate(w io.Writer, cal Calendar, checkIns []checkin.CheckIn, contacts []checkin.Contact) error {
	cal = cal.withDefaults()
	byID := make(map[string]checkin.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}

	out := ics.NewCalendar()
	out.SetProductId(cal.ProdID)
	out.SetCalscale("GREGORIAN")
	out.SetMethod(ics.MethodPublish)
	out.SetXWRCalName(cal.Name)
	out.SetXWRTimezone(cal.Location.String())
	out.AddVTimezone(newTimezone(cal.Location, cal.Now.In(cal.Location).Year()))

	tzid := ics.WithTZID(cal.Location.String())
	for _, ci := range checkIns {
		if ci.Date.IsZero() {
			continue
		}
		contact, known := byID[ci.ContactID]
		name := contact.Name
		if !known || strings.TrimSpace(name) == "" {
			name = unknownContact
		}

		ev := out.AddEvent(ci.ID + "@" + cal.UIDHost)
		ev.SetDtStampTime(cal.Now)
		ev.SetProperty(ics.ComponentPropertyDtStart, formatLocal(ci.Date, cal.Location), tzid)
		ev.SetProperty(ics.ComponentPropertyDtEnd, formatLocal(ci.Date.Add(EventDuration), cal.Location), tzid)
		ev.SetSummary(plainText(cal.Label + ": " + name))
		if ci.Notes != "" {
			ev.SetDescription(plainText(ci.Notes))
		}
		if known && contact.Address != "" {
			ev.SetLocation(plainText(contact.Address))
		}
		ev.SetStatus(eventStatus(ci.Status))
		ev.AddCategory(string(ci.Status))
		ev.SetProperty(propXStatus, string(ci.Status))
		ev.SetProperty(propXType, string(ci.Type))
	}
	return out.SerializeTo(w, ics.WithNewLineWindows)
}

// eventStatus maps a check-in status onto the VEVENT STATUS values RFC 5545
// allows. The exact status travels in CATEGORIES and X-TOUCHBASE-STATUS.
func eventStatus(s checkin.Status) ics.ObjectStatus {
	switch s {
	case checkin.Missed:
		return ics.ObjectStatusCancelled
	case checkin.Completed:
		return ics.ObjectStatusConfirmed
	default:
		return ics.ObjectStatusTentative
	}
}

// Generator renders feeds straight from the store.
type Generator struct {
	Store    storage.Store
	Clock    clock.Clock
	Location *time.Location
	Name     string
	Label    string
	UIDHost  string
}

// Render writes owner's feed to w.
func (g *Generator) Render(ctx context.Context, w io.Writer, owner string) error {
	var (
		checkIns []checkin.CheckIn
		contacts []checkin.Contact
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		checkIns, err = g.Store.ListCheckIns(ctx, storage.CheckInFilter{OwnerID: owner})
		return err
	})
	eg.Go(func() error {
		var err error
		contacts, err = g.Store.ListContacts(ctx, owner)
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	return Generate(w, Calendar{
		Name:     g.Name,
		Label:    g.Label,
		UIDHost:  g.UIDHost,
		Location: g.Location,
		Now:      clock.Or(g.Clock).Now(),
	}, checkIns, contacts)
}
