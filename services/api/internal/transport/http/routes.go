package http

import (
	"log"
	"net/http"
)

// Routes holds the services behind the public API.
type Routes struct {
	Registrar Registrar
	Events    EventReader
	Weekly    WeeklyDispatcher
	DB        Pinger
}

// NewRouter builds the API mux wrapped in CORS, request logging and panic
// recovery.
func NewRouter(routes Routes, corsOrigins []string, logger *log.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", HealthHandler(routes.DB, logger))
	mux.Handle("/register", HandleRegister(routes.Registrar, logger))
	mux.Handle("/event", HandleEvent(routes.Events, logger))
	mux.Handle("/maintenance/send-weekly-emails", HandleSendWeeklyEmails(routes.Weekly, logger))
	mux.Handle("/", NotFoundHandler())

	return RequestLogger(Recover(CORS(corsOrigins, mux), logger), logger)
}
