package mail

import (
	"context"
	"log"
)

// LogSender writes messages to the log instead of sending them. It stands in
// for SMTP when no relay is configured.
type LogSender struct {
	logger *log.Logger
}

func NewLogSender(logger *log.Logger) *LogSender {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Printf("mail not sent (smtp disabled) to=%s subject=%q attachments=%d", msg.To, msg.Subject, len(msg.Attachments))
	return nil
}

func (s *LogSender) SendBulk(ctx context.Context, msgs []Message) []Result {
	results := make([]Result, 0, len(msgs))
	for _, msg := range msgs {
		results = append(results, Result{Recipient: msg.To, Err: s.Send(ctx, msg)})
	}
	return results
}
