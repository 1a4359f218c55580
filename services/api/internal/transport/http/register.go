package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/palqo/palqo/services/api/internal/app"
)

// Registrar is the minimal interface needed to register an attendee.
type Registrar interface {
	Register(ctx context.Context, in app.RegisterInput) (app.RegisterResult, error)
}

// HandleRegister returns an HTTP handler for POST /register.
func HandleRegister(svc Registrar, logger *log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		res, err := svc.Register(r.Context(), app.RegisterInput{
			Name:       req.Name,
			Email:      req.Email,
			Instrument: req.Instrument,
		})
		if err != nil {
			writeServiceError(w, logger, "register", err)
			return
		}

		writeJSON(w, http.StatusCreated, registerResponse{
			Message: "Registration successful!",
			Success: true,
			AttendeeData: attendeeResponse{
				ID:         res.Registrant.ID,
				Name:       res.Registrant.Name,
				Email:      res.Registrant.Email,
				Instrument: res.Registrant.Instrument,
				EventDate:  res.Registrant.EventDate.Format(time.DateOnly),
			},
			UpdatedEventDetails: capacityResponse{
				MaxSpots:   res.Cycle.MaxSpots,
				SpotsTaken: res.Cycle.SpotsTaken,
			},
		})
	}
}

type registerRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Instrument string `json:"instrument"`
}

type registerResponse struct {
	Message             string           `json:"message"`
	Success             bool             `json:"success"`
	AttendeeData        attendeeResponse `json:"attendeeData"`
	UpdatedEventDetails capacityResponse `json:"updatedEventDetails"`
}

type attendeeResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Instrument string `json:"instrument,omitempty"`
	EventDate  string `json:"event_date"`
}

type capacityResponse struct {
	MaxSpots   int `json:"max_spots"`
	SpotsTaken int `json:"spots_taken"`
}
