package http

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/palqo/palqo/services/api/internal/app"
	"github.com/palqo/palqo/services/api/internal/domain"
)

type WeeklyDispatcher interface {
	SendWeekly(ctx context.Context) (app.WeeklyReport, error)
}

// HandleSendWeeklyEmails returns an HTTP handler for
// GET /maintenance/send-weekly-emails. Failure details stay in the log.
func HandleSendWeeklyEmails(svc WeeklyDispatcher, logger *log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		report, err := svc.SendWeekly(r.Context())
		if err != nil {
			logger.Printf("weekly emails failed err=%v", err)
			switch {
			case errors.Is(err, domain.ErrTimeout):
				writeError(w, http.StatusGatewayTimeout, codeTimeout, "An error occurred while sending emails.")
			case errors.Is(err, domain.ErrDispatchFailed):
				writeError(w, http.StatusInternalServerError, codeDispatchFailed, "An error occurred while sending emails.")
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "An error occurred while sending emails.")
			}
			return
		}

		writeJSON(w, http.StatusOK, weeklyResponse{
			Message:    "Weekly emails sent successfully!",
			EventDate:  report.EventDate.Format(time.DateOnly),
			Recipients: len(report.Results),
			Failed:     report.Failed(),
		})
	}
}

type weeklyResponse struct {
	Message    string `json:"message"`
	EventDate  string `json:"event_date"`
	Recipients int    `json:"recipients"`
	Failed     int    `json:"failed"`
}
