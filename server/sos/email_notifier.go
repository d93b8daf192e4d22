package sos

import (
	"context"
	"sync"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/emailqueue"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/mailer"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DEFAULT_EMAIL_CONCURRENCY = 4

// Outbox is the part of the email queue the notifier needs
type Outbox interface {
	Enqueue(item *models.EmailQueueItem) error
	SendSingle(ctx context.Context, id uint) (*emailqueue.SendResult, error)
}

type EmailRequest struct {
	EventID     string
	UserName    string
	Phone       string
	Address     string
	Latitude    float64
	Longitude   float64
	IsTest      bool
	TriggeredAt time.Time
	Contacts    []models.EmergencyContact
}

// EmailSummary counts emails by what happened to them. Queued emails were
// claimed by the queue processor before they could be sent directly.
type EmailSummary struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Queued    int `json:"queued"`
	Failed    int `json:"failed"`
}

// EmailNotifier emails every contact that has an address, whatever its type.
// Each email goes through the outbox, so a failed send is left for the
// retry job instead of being lost.
type EmailNotifier struct {
	outbox      Outbox
	concurrency int
	logg        *zap.SugaredLogger
}

func NewEmailNotifier(outbox Outbox, logg *zap.SugaredLogger) *EmailNotifier {
	return &EmailNotifier{outbox: outbox, concurrency: DEFAULT_EMAIL_CONCURRENCY, logg: logger.OrNop(logg)}
}

func (n *EmailNotifier) Notify(ctx context.Context, req EmailRequest) EmailSummary {
	var mu sync.Mutex
	summary := EmailSummary{}

	record := func(queued bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			summary.Failed++
		case queued:
			summary.Queued++
		default:
			summary.Sent++
		}
	}

	g := errgroup.Group{}
	g.SetLimit(n.concurrency)

	for _, contact := range req.Contacts {
		if contact.Email == "" {
			continue
		}
		summary.Attempted++

		contact := contact
		g.Go(func() error {
			queued, err := n.notifyContact(ctx, req, contact)
			if err != nil {
				n.logg.Warnf(colors.Yellow("[email notifier] ")+"event=%v contact id=%v: %v", req.EventID, contact.ID, err)
			}
			record(queued, err)

			// errors stay local to the contact, siblings keep going
			return nil
		})
	}
	g.Wait()

	n.logg.Infof(colors.Cyan("[email notifier] ")+"event=%v attempted=%v sent=%v queued=%v failed=%v",
		req.EventID, summary.Attempted, summary.Sent, summary.Queued, summary.Failed)

	return summary
}

// notifyContact reports queued=true when the email was left to the queue
// processor instead of being sent here.
func (n *EmailNotifier) notifyContact(ctx context.Context, req EmailRequest, contact models.EmergencyContact) (queued bool, err error) {
	subject, body, err := mailer.RenderSOSEmail(mailer.SOSEmailData{
		ContactName: contact.Name,
		UserName:    req.UserName,
		Phone:       req.Phone,
		Address:     req.Address,
		MapLink:     utils.MapLink(req.Latitude, req.Longitude),
		IsTest:      req.IsTest,
		TriggeredAt: req.TriggeredAt,
	})
	if err != nil {
		return false, err
	}

	eventID := req.EventID
	item := &models.EmailQueueItem{
		Recipient:  contact.Email,
		Subject:    subject,
		Body:       body,
		Template:   mailer.SOS_TEMPLATE,
		Priority:   models.EMERGENCY_EMAIL_PRIORITY,
		SOSEventID: &eventID,
	}
	if err := n.outbox.Enqueue(item); err != nil {
		return false, errors.Wrap(err, "enqueue")
	}

	result, err := n.outbox.SendSingle(ctx, item.ID)
	if errors.Is(err, emailqueue.ErrNotClaimed) {
		n.logg.Infof(colors.Cyan("[email notifier] ")+"event=%v email id=%v already claimed by the queue processor", req.EventID, item.ID)
		return true, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "send email id=%v", item.ID)
	}

	if !result.Success {
		return false, errors.Errorf("email id=%v failed: %v", item.ID, result.Error)
	}

	return false, nil
}
