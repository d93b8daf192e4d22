package twilio

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/realtime"
	"github.com/Daskott/guardian/server/sos"
	"github.com/Daskott/guardian/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioUtil "github.com/twilio/twilio-go/client"
)

type fakeCaller struct {
	mu       sync.Mutex
	err      error
	reject   map[string]error
	calls    []string
	twiml    string
	hangUps  int
	onCall   func()
	sequence int
}

func (c *fakeCaller) CreateCall(to, twiml string, ringSeconds int) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, to)
	c.twiml = twiml
	c.sequence++
	onCall := c.onCall
	c.mu.Unlock()

	if c.err != nil {
		return "", c.err
	}
	if err := c.reject[to]; err != nil {
		return "", err
	}
	if onCall != nil {
		go onCall()
	}
	return "CA123", nil
}

func (c *fakeCaller) HangUp(callSid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangUps++
	return nil
}

func (c *fakeCaller) WebhookURL(path string) string {
	return fullRequestURL("guardian.example.com", path)
}

func dialRequest() sos.DialRequest {
	return sos.DialRequest{
		EventID:    "evt-1",
		CallerName: "Ada Obi",
		Contact: models.EmergencyContact{
			BaseModel:   models.BaseModel{ID: 7},
			PhoneNumber: "+15550000007",
			Type:        models.CALL_ONLY_CONTACT,
		},
	}
}

func TestDialerAnsweredWhenAckArrives(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()

	caller := &fakeCaller{}
	caller.onCall = func() {
		realtime.PublishAck(context.Background(), broker, realtime.Ack{EventID: "evt-1", ContactID: 7, Digits: "1"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outcome, err := NewDialer(caller, broker, 15*time.Second, nil).Dial(ctx, dialRequest())
	require.Nil(t, err)
	assert.Equal(t, sos.ANSWERED, outcome)
	assert.Equal(t, []string{"+15550000007"}, caller.calls)
	assert.Contains(t, caller.twiml, "https://guardian.example.com/v1/webhooks/twilio/voice?contact_id=7&amp;event_id=evt-1")
	assert.Equal(t, 0, caller.hangUps)
}

func TestDialerNoAnswerHangsUp(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()

	caller := &fakeCaller{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome, err := NewDialer(caller, broker, time.Second, nil).Dial(ctx, dialRequest())
	require.Nil(t, err)
	assert.Equal(t, sos.NO_ANSWER, outcome)
	assert.Equal(t, 1, caller.hangUps)
}

func TestDialerErrors(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()

	caller := &fakeCaller{err: errors.New("invalid number")}
	dialer := NewDialer(caller, broker, time.Second, nil)

	for i := 0; i < 3; i++ {
		_, err := dialer.Dial(context.Background(), dialRequest())
		assert.ErrorIs(t, err, ErrDialerUnavailable)
		assert.NotEqual(t, ErrDialerUnavailable, err)
	}

	_, err := dialer.Dial(context.Background(), dialRequest())
	assert.Equal(t, ErrDialerUnavailable, err, "breaker opens after repeated failures")
	assert.Len(t, caller.calls, 3)
}

func TestDialerRejectedNumberIsNotAnOutage(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()

	invalidTo := &twilioUtil.TwilioRestError{Status: 400, Code: 21211, Message: "Invalid 'To' Phone Number"}
	caller := &fakeCaller{reject: map[string]error{"+15550000007": invalidTo}}
	dialer := NewDialer(caller, broker, time.Second, nil)

	for i := 0; i < 4; i++ {
		_, err := dialer.Dial(context.Background(), dialRequest())
		assert.ErrorIs(t, err, invalidTo)
		assert.NotErrorIs(t, err, ErrDialerUnavailable)
	}
	assert.Len(t, caller.calls, 4, "breaker stays closed")
}

func TestIsRejectedNumber(t *testing.T) {
	assert.True(t, IsRejectedNumber(&twilioUtil.TwilioRestError{Status: 400, Code: 21211}))
	assert.True(t, IsRejectedNumber(&twilioUtil.TwilioRestError{Status: 404}))
	assert.False(t, IsRejectedNumber(&twilioUtil.TwilioRestError{Status: 401, Code: 20003}))
	assert.False(t, IsRejectedNumber(&twilioUtil.TwilioRestError{Status: 429, Code: 20429}))
	assert.False(t, IsRejectedNumber(&twilioUtil.TwilioRestError{Status: 503}))
	assert.False(t, IsRejectedNumber(errors.New("connection refused")))
	assert.False(t, IsRejectedNumber(nil))
}

func TestSequencerCallsNextContactAfterRejectedNumber(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()

	caller := &fakeCaller{reject: map[string]error{
		"+15550000001": &twilioUtil.TwilioRestError{Status: 400, Code: 21211},
	}}
	caller.onCall = func() {
		realtime.PublishAck(context.Background(), broker, realtime.Ack{EventID: "evt-1", ContactID: 2, Digits: "1"})
	}

	contact := func(id uint, phone string) models.EmergencyContact {
		return models.EmergencyContact{BaseModel: models.BaseModel{ID: id}, PhoneNumber: phone, Priority: int(id), Type: models.CALL_ONLY_CONTACT}
	}

	sequencer := sos.NewCallSequencer(NewDialer(caller, broker, time.Second, nil), time.Second, nil)
	result := sequencer.Run(context.Background(), sos.CallPlan{
		EventID:  "evt-1",
		Contacts: []models.EmergencyContact{contact(1, "+15550000001"), contact(2, "+15550000002")},
	})

	assert.Equal(t, sos.REACHED_CALL, result.State)
	assert.Equal(t, []uint{1, 2}, result.Dialed)
	assert.Equal(t, []uint{1}, result.Failed)
	assert.Equal(t, []string{"+15550000001", "+15550000002"}, caller.calls)
}

func TestSOSCallTwiML(t *testing.T) {
	twiml, err := SOSCallTwiML("https://guardian.example.com/ack", "Ada Obi", true)
	require.Nil(t, err)

	assert.True(t, strings.HasPrefix(twiml, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, twiml, `<Gather action="https://guardian.example.com/ack" method="POST" numDigits="1" timeout="10">`)
	assert.Contains(t, twiml, "This is only a test. This is an emergency alert from Guardian. Ada Obi has triggered")
	assert.Contains(t, twiml, "<Hangup></Hangup>")

	twiml, err = SayAndHangUpTwiML("Thank you")
	require.Nil(t, err)
	assert.Contains(t, twiml, `<Say voice="alice">Thank you</Say>`)
}

func TestClientWrapperDevMode(t *testing.T) {
	client := NewClient(shared.TwilioConfig{}, "guardian.example.com/", true, nil)

	sid, err := client.CreateCall("+15550000007", "<Response/>", 15)
	require.Nil(t, err)
	assert.True(t, strings.HasPrefix(sid, "CA_dev_"))
	assert.Nil(t, client.SendMessage("+15550000007", "hello"))
	assert.Nil(t, client.HangUp(sid))
	assert.True(t, client.ValidateRequest("/v1/webhooks/twilio/voice", url.Values{}, ""))
	assert.Equal(t, "https://guardian.example.com/v1/webhooks/twilio/voice", client.WebhookURL(VOICE_WEBHOOK_PATH))
}

func TestValidateRequestRejectsBadSignature(t *testing.T) {
	client := NewClient(shared.TwilioConfig{AuthToken: "secret"}, "https://guardian.example.com", false, nil)

	valid := client.ValidateRequest(AckPath("evt-1", 7), url.Values{"Digits": {"1"}}, "bad-signature")
	assert.False(t, valid)
}
