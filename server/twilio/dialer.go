package twilio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/breaker"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/realtime"
	"github.com/Daskott/guardian/server/sos"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	twilioUtil "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

var ErrDialerUnavailable = sos.ErrDialerUnavailable

// Caller is the part of ClientWrapper the dialer needs
type Caller interface {
	CreateCall(to, twiml string, ringSeconds int) (string, error)
	HangUp(callSid string) error
	WebhookURL(path string) string
}

// Dialer places emergency calls through twilio. A call counts as answered
// once the callee presses 1, which reaches us through the voice webhook
// and is relayed on the event's ack channel.
type Dialer struct {
	caller      Caller
	broker      realtime.Broker
	cb          *gobreaker.CircuitBreaker
	ringSeconds int
	logg        *zap.SugaredLogger
}

func NewDialer(caller Caller, broker realtime.Broker, ringTimeout time.Duration, logg *zap.SugaredLogger) *Dialer {
	return &Dialer{
		caller:      caller,
		broker:      broker,
		cb:          breaker.NewCircuitBreakerIgnoring("twilio-dialer", IsRejectedNumber, logg),
		ringSeconds: int(ringTimeout.Seconds()),
		logg:        logger.OrNop(logg),
	}
}

func (d *Dialer) Dial(ctx context.Context, req sos.DialRequest) (sos.DialOutcome, error) {
	// subscribe before calling, so a fast ack is not missed
	sub, err := d.broker.Subscribe(ctx, realtime.AckChannel(req.EventID))
	if err != nil {
		return sos.NO_ANSWER, errors.Wrapf(ErrDialerUnavailable, "subscribe to acks: %v", err)
	}
	defer sub.Close()

	twiml, err := SOSCallTwiML(d.caller.WebhookURL(AckPath(req.EventID, req.Contact.ID)), req.CallerName, req.IsTest)
	if err != nil {
		return sos.NO_ANSWER, err
	}

	callSid, err := d.cb.Execute(func() (interface{}, error) {
		return d.caller.CreateCall(req.Contact.PhoneNumber, twiml, d.ringSeconds)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return sos.NO_ANSWER, ErrDialerUnavailable
	}
	if IsRejectedNumber(err) {
		return sos.NO_ANSWER, errors.Wrapf(err, "call contact id=%v", req.Contact.ID)
	}
	if err != nil {
		return sos.NO_ANSWER, errors.Wrapf(ErrDialerUnavailable, "call contact id=%v: %v", req.Contact.ID, err)
	}

	d.logg.Infof(colors.Blue("[twilio dialer] ")+"event=%v contact id=%v call sid=%v", req.EventID, req.Contact.ID, callSid)

	if realtime.WaitForAck(ctx, sub, req.Contact.ID) {
		return sos.ANSWERED, nil
	}

	if err := d.caller.HangUp(callSid.(string)); err != nil {
		d.logg.Warnf(colors.Yellow("[twilio dialer] ")+"hang up sid=%v: %v", callSid, err)
	}

	return sos.NO_ANSWER, nil
}

// IsRejectedNumber reports whether twilio refused a call because of the
// number being called (e.g. 21211, invalid 'To' number). Auth and rate
// limit errors are not about the number.
func IsRejectedNumber(err error) bool {
	var restErr *twilioUtil.TwilioRestError
	if !errors.As(err, &restErr) {
		return false
	}

	switch restErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}

	return restErr.Status >= 400 && restErr.Status < 500
}

// AckPath is the voice webhook path the callee's key press is posted to
func AckPath(eventID string, contactID uint) string {
	query := url.Values{}
	query.Set("event_id", eventID)
	query.Set("contact_id", fmt.Sprint(contactID))

	return VOICE_WEBHOOK_PATH + "?" + query.Encode()
}
