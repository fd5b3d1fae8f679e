// Package notify emails the configured recipients of an agency when a code1
// call is created.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/models"
	templates "github.com/linesmerrill/police-cad-dispatch/templates/html"
)

const queueSize = 64

// Message is a rendered alert
type Message struct {
	To        []string
	Subject   string
	PlainText string
	HTML      string
}

// Sender delivers a rendered alert
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendgridSender delivers alerts through sendgrid
type SendgridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendgridSender creates a sender using apiKey
func NewSendgridSender(apiKey, fromEmail string) *SendgridSender {
	return &SendgridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail("Lines Police CAD Dispatch", fromEmail),
	}
}

// Send emails every recipient of msg individually
func (s *SendgridSender) Send(ctx context.Context, msg Message) error {
	for _, addr := range msg.To {
		to := mail.NewEmail("", addr)
		message := mail.NewSingleEmail(s.from, msg.Subject, to, msg.PlainText, msg.HTML)
		response, err := s.client.SendWithContext(ctx, message)
		if err != nil {
			zap.S().Errorw("failed to send email", "error", err, "to", addr)
			return err
		}
		if response.StatusCode >= 400 {
			zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", addr)
			return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
		}
		zap.S().Infow("email sent successfully", "to", addr, "subject", msg.Subject)
	}
	return nil
}

// Notifier turns code1 creations into emails off the publishing goroutine
type Notifier struct {
	sender     Sender
	recipients func(agencyID string) []string
	baseURL    string
	queue      chan models.Call

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// New creates a Notifier. recipients returns the addresses for an agency.
func New(sender Sender, recipients func(agencyID string) []string, baseURL string) *Notifier {
	return &Notifier{
		sender:     sender,
		recipients: recipients,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		queue:      make(chan models.Call, queueSize),
	}
}

// Observe is a bus hook. It queues alerts for code1 calls created on this
// instance and never blocks.
func (n *Notifier) Observe(ev models.Event) {
	if ev.Kind != models.ChangeCreated || ev.Origin != "" || ev.Call == nil || ev.Call.Priority != models.PriorityCode1 {
		return
	}
	if len(n.recipients(ev.AgencyID)) == 0 {
		return
	}
	select {
	case n.queue <- ev.Call.Clone():
	default:
		n.dropped.Add(1)
		zap.S().Warnw("alert queue full, dropping code1 alert", "agency", ev.AgencyID, "call", ev.CallID)
	}
}

// Run sends queued alerts until ctx is done
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case call := <-n.queue:
			if err := n.sender.Send(ctx, n.render(call)); err != nil {
				zap.S().Errorw("failed to send code1 alert", "agency", call.AgencyID, "call", call.ID, "error", err)
				continue
			}
			n.sent.Add(1)
		}
	}
}

// Sent returns the number of alerts delivered
func (n *Notifier) Sent() uint64 {
	return n.sent.Load()
}

// Dropped returns the number of alerts lost to a full queue
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

func (n *Notifier) render(call models.Call) Message {
	subject := fmt.Sprintf("[CODE 1] %s", call.Title)
	fields := []templates.AlertField{
		{Label: "Title", Value: call.Title},
		{Label: "Type", Value: string(call.CallType)},
		{Label: "Address", Value: call.Location.Address},
		{Label: "Description", Value: call.Description},
		{Label: "Created", Value: call.CreatedAt.Format("2006-01-02 15:04:05 MST")},
	}

	var plain strings.Builder
	for _, f := range fields {
		if f.Value != "" {
			fmt.Fprintf(&plain, "%s: %s\n", f.Label, f.Value)
		}
	}
	link := ""
	if n.baseURL != "" {
		link = fmt.Sprintf("%s/agency/%s/calls/%s", n.baseURL, call.AgencyID, call.ID)
		fmt.Fprintf(&plain, "\n%s\n", link)
	}

	return Message{
		To:        n.recipients(call.AgencyID),
		Subject:   subject,
		PlainText: plain.String(),
		HTML:      templates.RenderCallAlert(subject, fields, link),
	}
}
