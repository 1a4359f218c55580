package domain

import "time"

// Registrant is a person admitted to the current cycle.
type Registrant struct {
	ID         string
	Name       string
	Email      string
	Instrument string
	EventDate  time.Time
	CreatedAt  time.Time
}

// MasterRegistrant is everyone who has ever registered, keyed by email.
type MasterRegistrant struct {
	Email     string
	Name      string
	EventDate time.Time
}
