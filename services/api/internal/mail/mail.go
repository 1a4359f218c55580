// Package mail delivers rendered messages over SMTP.
package mail

import "context"

// Attachment is a file carried alongside the plain-text body.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type Message struct {
	To          string
	ToName      string
	CC          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Result is the outcome of one message in a bulk send.
type Result struct {
	Recipient string
	Err       error
}

// Sender is the outbound email transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	SendBulk(ctx context.Context, msgs []Message) []Result
}
