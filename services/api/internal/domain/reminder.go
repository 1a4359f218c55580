package domain

import "time"

type ReminderStatus string

const (
	ReminderStatusPending ReminderStatus = "pending"
	ReminderStatusSent    ReminderStatus = "sent"
	ReminderStatusFailed  ReminderStatus = "failed"
	ReminderStatusSkipped ReminderStatus = "skipped"
)

// Reminder is a durable "send at" record for the evening-before email.
type Reminder struct {
	ID        string
	Email     string
	Name      string
	EventDate time.Time
	DueAt     time.Time
	Status    ReminderStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
}
