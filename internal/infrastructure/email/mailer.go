// Package email implements the notification sink for sync-triggered mail.
// Delivery is fire-and-forget from the caller's perspective: a failed send is
// reported as an error but must never abort the work that triggered it.
package email

import (
	"context"
	"fmt"
)

// Message is a single outgoing mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends a message to a single recipient.
type Mailer interface {
	// Send delivers the message. Returns an error wrapping
	// shared.ErrNotification when delivery fails.
	Send(ctx context.Context, msg Message) error
}

// InactivityReminder builds the reminder sent to a student who has not
// submitted anything within the inactivity window.
func InactivityReminder(to, name string, handle string, warnings int) Message {
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"We noticed there were no submissions on your Codeforces account (%s) "+
			"in the last 7 days.\n\n"+
			"Consistent practice is the single biggest factor in contest progress. "+
			"Try to solve at least one problem today to get back on track.\n\n"+
			"This is reminder #%d.\n\n"+
			"Keep going,\nThe Progress Hub team",
		name, handle, warnings,
	)

	return Message{
		To:      to,
		Subject: "We miss you on Codeforces",
		Body:    body,
	}
}
