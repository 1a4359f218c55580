package domain

// EventCycle is the capacity ledger for the current cycle. One row exists.
type EventCycle struct {
	ID         int64
	MaxSpots   int
	SpotsTaken int
}

// SpotsLeft never goes negative even if the row was edited by hand.
func (c EventCycle) SpotsLeft() int {
	if c.SpotsTaken >= c.MaxSpots {
		return 0
	}
	return c.MaxSpots - c.SpotsTaken
}

func (c EventCycle) Full() bool {
	return c.SpotsTaken >= c.MaxSpots
}
