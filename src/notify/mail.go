package notify

import (
	"context"
	"fmt"
	"strings"
	"tourbook/src/lib"
	"tourbook/src/lib/mailer"
	"tourbook/src/money"
)

type sendFunc func(ctx context.Context, input *lib.SendMailInput) error

// MailNotifier emails the customer. Events without an address are skipped.
type MailNotifier struct {
	From     string
	FromName string
	send     sendFunc
}

// NewMailNotifier sends over SMTP directly.
func NewMailNotifier(from, fromName string) *MailNotifier {
	return &MailNotifier{From: from, FromName: fromName, send: func(_ context.Context, input *lib.SendMailInput) error {
		return lib.SendMail(input)
	}}
}

// NewQueuedMailNotifier hands messages to the mail worker queue.
func NewQueuedMailNotifier(from, fromName string) *MailNotifier {
	return &MailNotifier{From: from, FromName: fromName, send: mailer.NewMailerMessage}
}

func (m *MailNotifier) Notify(ctx context.Context, ev Event) error {
	if ev.Email == "" {
		return nil
	}
	input := Render(ev)
	input.From = m.From
	input.FromName = m.FromName
	return m.send(ctx, input)
}

// Render builds the customer email for ev.
func Render(ev Event) *lib.SendMailInput {
	refs := strings.Join(ev.References, ", ")
	amount := strings.ToUpper(ev.Currency) + " " + money.Format(ev.Amount, ev.Currency)

	var subject, body string
	switch ev.Kind {
	case BOOKING_CONFIRMED:
		subject = fmt.Sprintf("Booking confirmed: %s", refs)
		body = fmt.Sprintf("Your booking %s is confirmed. Amount paid: %s.", refs, amount)
	case BOOKING_CANCELLED:
		subject = fmt.Sprintf("Booking cancelled: %s", refs)
		body = fmt.Sprintf("Your booking %s was cancelled (%s). No payment was taken.", refs, ev.Reason)
		if ev.Amount > 0 {
			body = fmt.Sprintf("Your booking %s was cancelled (%s). A refund of %s is on its way.", refs, ev.Reason, amount)
		}
	case BOOKING_REFUNDED:
		subject = fmt.Sprintf("Refund issued: %s", refs)
		body = fmt.Sprintf("We refunded %s for booking %s.", amount, refs)
	case ORDER_CONFIRMED:
		subject = fmt.Sprintf("Order confirmed: %s", refs)
		body = fmt.Sprintf("Your order %s is confirmed. Amount paid: %s.", refs, amount)
	case ORDER_CANCELLED:
		subject = fmt.Sprintf("Order cancelled: %s", refs)
		body = fmt.Sprintf("Your order %s was cancelled (%s).", refs, ev.Reason)
	default:
		subject = string(ev.Kind)
		body = refs
	}
	if ev.Name != "" {
		body = fmt.Sprintf("Hi %s,\n\n%s", ev.Name, body)
	}
	return &lib.SendMailInput{
		To:      []string{ev.Email},
		Subject: subject,
		Body:    body,
	}
}
