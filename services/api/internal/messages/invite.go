package messages

import (
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

const productID = "-//palqo//weekly registration//EN"

// Invite builds an iCalendar REQUEST for the recipient's session. The UID is
// derived from email and date so a re-sent invite updates the same entry.
func (r *Renderer) Invite(to Recipient, eventDate, now time.Time) []byte {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodRequest)
	cal.SetProductId(productID)

	ev := cal.AddEvent(InviteUID(to.Email, eventDate))
	ev.SetDtStampTime(now.UTC())
	ev.SetStartAt(r.calc.StartsAt(eventDate))
	ev.SetEndAt(r.calc.EndsAt(eventDate))
	ev.SetSummary(r.event.Name)
	if r.event.Venue != "" {
		ev.SetLocation(r.event.Venue)
	}
	ev.SetDescription(r.printer.Sprintf(keyInviteDescription, to.Name))
	if r.event.Organizer != "" {
		ev.SetOrganizer("mailto:"+r.event.Organizer, ics.WithCN(r.organizerName()))
	}
	ev.AddAttendee("mailto:"+to.Email, ics.WithCN(to.Name))

	return []byte(cal.Serialize())
}

func (r *Renderer) organizerName() string {
	if r.event.Host != "" {
		return r.event.Host
	}
	return r.event.Name
}

func InviteUID(email string, eventDate time.Time) string {
	key := email + "|" + eventDate.Format("2006-01-02")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String() + "@palqo"
}
