// Package messages renders the email copy and calendar invites sent to
// registrants.
package messages

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/palqo/palqo/services/api/internal/calendar"
	"github.com/palqo/palqo/services/api/internal/mail"
)

// Event holds the fixed details of the weekly event that appear in copy.
type Event struct {
	Name        string
	Venue       string
	ArrivalNote string
	Host        string
	Organizer   string
	RegisterURL string
	CC          []string
}

type Recipient struct {
	Name  string
	Email string
}

type Renderer struct {
	event   Event
	calc    *calendar.Calculator
	tag     language.Tag
	printer *message.Printer
}

func NewRenderer(event Event, calc *calendar.Calculator, tag language.Tag) *Renderer {
	if event.Name == "" {
		event.Name = "Weekly session"
	}
	return &Renderer{
		event:   event,
		calc:    calc,
		tag:     tag,
		printer: message.NewPrinter(tag),
	}
}

// DateLabel is the long-form date used in every message.
func (r *Renderer) DateLabel(eventDate time.Time) string {
	return calendar.FormatLong(eventDate, r.tag)
}

func (r *Renderer) Confirmation(to Recipient, eventDate, now time.Time) mail.Message {
	date := r.DateLabel(eventDate)
	start := calendar.FormatClock(r.calc.StartsAt(eventDate))

	paragraphs := []string{
		r.printer.Sprintf(keyGreeting, to.Name),
		r.printer.Sprintf(keyConfirmThanks, r.event.Name, start, date),
	}
	if r.event.Venue != "" {
		paragraphs = append(paragraphs, r.printer.Sprintf(keyConfirmVenue, r.event.Venue))
	}
	if r.event.ArrivalNote != "" {
		paragraphs = append(paragraphs, r.event.ArrivalNote)
	}
	paragraphs = append(paragraphs, r.printer.Sprintf(keyConfirmFree), r.signoff())

	return mail.Message{
		To:      to.Email,
		ToName:  to.Name,
		CC:      r.event.CC,
		Subject: r.printer.Sprintf(keyConfirmSubject, r.event.Name),
		Body:    strings.Join(paragraphs, "\n\n"),
		Attachments: []mail.Attachment{{
			Name:        "invite.ics",
			ContentType: "text/calendar; method=REQUEST",
			Data:        r.Invite(to, eventDate, now),
		}},
	}
}

func (r *Renderer) Reminder(to Recipient, eventDate time.Time) mail.Message {
	return mail.Message{
		To:      to.Email,
		ToName:  to.Name,
		Subject: r.printer.Sprintf(keyReminderSubject, r.event.Name),
		Body: strings.Join([]string{
			r.printer.Sprintf(keyGreeting, to.Name),
			r.printer.Sprintf(keyReminderBody, r.event.Name, r.DateLabel(eventDate)),
			r.printer.Sprintf(keyLookingForward),
			r.signoff(),
		}, "\n\n"),
	}
}

// WeeklyUnregistered invites a past registrant to sign up for eventDate.
func (r *Renderer) WeeklyUnregistered(to Recipient, eventDate time.Time) mail.Message {
	date := r.DateLabel(eventDate)
	paragraphs := []string{
		r.printer.Sprintf(keyGreeting, to.Name),
		r.printer.Sprintf(keyWeeklyOpenBody, r.event.Name, r.weekdayName(eventDate), date),
	}
	if r.event.RegisterURL != "" {
		paragraphs = append(paragraphs, r.printer.Sprintf(keyWeeklyOpenSignup, r.event.RegisterURL))
	}
	paragraphs = append(paragraphs, r.signoff())
	return mail.Message{
		To:      to.Email,
		ToName:  to.Name,
		Subject: r.printer.Sprintf(keyWeeklySubject, r.event.Name, date),
		Body:    strings.Join(paragraphs, "\n\n"),
	}
}

// WeeklyRegistered confirms attendance to someone already on the list.
func (r *Renderer) WeeklyRegistered(to Recipient, eventDate time.Time) mail.Message {
	date := r.DateLabel(eventDate)
	return mail.Message{
		To:      to.Email,
		ToName:  to.Name,
		Subject: r.printer.Sprintf(keyWeeklySubject, r.event.Name, date),
		Body: strings.Join([]string{
			r.printer.Sprintf(keyGreeting, to.Name),
			r.printer.Sprintf(keyWeeklyBookedBody, r.event.Name, r.weekdayName(eventDate), date),
			r.printer.Sprintf(keyLookingForward),
			r.signoff(),
		}, "\n\n"),
	}
}

func (r *Renderer) signoff() string {
	if r.event.Host == "" {
		return r.printer.Sprintf(keySignoffAnonymous)
	}
	return r.printer.Sprintf(keySignoff, r.event.Host)
}

func (r *Renderer) weekdayName(eventDate time.Time) string {
	return eventDate.Weekday().String()
}
