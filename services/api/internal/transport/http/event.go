package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/palqo/palqo/services/api/internal/app"
)

type EventReader interface {
	Details(ctx context.Context) (app.EventDetails, error)
}

// HandleEvent returns an HTTP handler for GET /event.
func HandleEvent(svc EventReader, logger *log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		details, err := svc.Details(r.Context())
		if err != nil {
			writeServiceError(w, logger, "event details", err)
			return
		}

		writeJSON(w, http.StatusOK, eventResponse{
			EventName:      details.Name,
			EventDate:      details.Date.Format(time.DateOnly),
			EventDateLabel: details.DateLabel,
			MaxSpots:       details.Cycle.MaxSpots,
			SpotsTaken:     details.Cycle.SpotsTaken,
			SpotsLeft:      details.Cycle.SpotsLeft(),
		})
	}
}

type eventResponse struct {
	EventName      string `json:"event_name"`
	EventDate      string `json:"event_date"`
	EventDateLabel string `json:"event_date_label"`
	MaxSpots       int    `json:"max_spots"`
	SpotsTaken     int    `json:"spots_taken"`
	SpotsLeft      int    `json:"spots_left"`
}
