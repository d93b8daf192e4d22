package sos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Daskott/guardian/server/models"
	"github.com/stretchr/testify/assert"
)

const (
	answer = "answer"
	ignore = "ignore"
	fail   = "fail"
	reject = "reject"
)

// fakeDialer answers, ignores, rejects or fails per contact id
type fakeDialer struct {
	mu       sync.Mutex
	behavior map[uint]string
	dialed   []uint
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (DialOutcome, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, req.Contact.ID)
	behavior := d.behavior[req.Contact.ID]
	d.mu.Unlock()

	switch behavior {
	case answer:
		return ANSWERED, nil
	case fail:
		return NO_ANSWER, fmt.Errorf("call contact id=%v: %w", req.Contact.ID, ErrDialerUnavailable)
	case reject:
		return NO_ANSWER, errors.New("invalid 'To' phone number")
	default:
		<-ctx.Done()
		return NO_ANSWER, ctx.Err()
	}
}

func (d *fakeDialer) Dialed() []uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint{}, d.dialed...)
}

type fakeTexter struct {
	mu  sync.Mutex
	to  []string
	msg string
}

func (f *fakeTexter) SendMessage(to, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	f.msg = msg
	return nil
}

func callOnly(id uint, priority int) models.EmergencyContact {
	return models.EmergencyContact{
		BaseModel:   models.BaseModel{ID: id},
		Name:        "contact",
		PhoneNumber: fmt.Sprintf("+1555000000%d", id),
		Priority:    priority,
		Type:        models.CALL_ONLY_CONTACT,
	}
}

func TestSequencerTimeoutThenAnswer(t *testing.T) {
	dialer := &fakeDialer{behavior: map[uint]string{1: ignore, 2: answer}}
	sequencer := NewCallSequencer(dialer, 20*time.Millisecond, nil)

	result := sequencer.Run(context.Background(), CallPlan{
		EventID:  "evt-1",
		Contacts: []models.EmergencyContact{callOnly(2, 2), callOnly(1, 1)},
	})

	assert.Equal(t, REACHED_CALL, result.State)
	assert.Equal(t, []uint{1, 2}, result.Dialed)
	if assert.NotNil(t, result.Reached) {
		assert.Equal(t, uint(2), *result.Reached)
	}
	assert.Nil(t, result.Err)
}

func TestSequencerStopsAtFirstAnswer(t *testing.T) {
	dialer := &fakeDialer{behavior: map[uint]string{1: answer, 2: answer}}
	sequencer := NewCallSequencer(dialer, 20*time.Millisecond, nil)

	result := sequencer.Run(context.Background(), CallPlan{
		EventID:  "evt-1",
		Contacts: []models.EmergencyContact{callOnly(1, 1), callOnly(2, 2)},
	})

	assert.Equal(t, REACHED_CALL, result.State)
	assert.Equal(t, []uint{1}, dialer.Dialed())
}

func TestSequencerDialsOnlyCallOnlyContactsInPriorityOrder(t *testing.T) {
	dialer := &fakeDialer{behavior: map[uint]string{}}
	texter := &fakeTexter{}
	sequencer := NewCallSequencer(dialer, 10*time.Millisecond, nil).WithFallbackTexter(texter)

	both := callOnly(4, 0)
	both.Type = models.BOTH_CONTACT
	noPhone := callOnly(5, 0)
	noPhone.PhoneNumber = ""

	result := sequencer.Run(context.Background(), CallPlan{
		EventID:    "evt-1",
		CallerName: "Ada Obi",
		IsTest:     true,
		Contacts:   []models.EmergencyContact{callOnly(3, 3), both, callOnly(1, 1), noPhone, callOnly(2, 1)},
	})

	assert.Equal(t, EXHAUSTED_CALL, result.State)
	assert.Equal(t, []uint{1, 2, 3}, result.Dialed, "equal priorities keep their order")
	assert.Nil(t, result.Reached)

	assert.Len(t, texter.to, 3, "everyone dialed gets a text when nobody answers")
	assert.Contains(t, texter.msg, "[TEST] SOS from Ada Obi")
}

func TestSequencerAbandonsOnDialError(t *testing.T) {
	dialer := &fakeDialer{behavior: map[uint]string{1: ignore, 2: fail, 3: answer}}
	sequencer := NewCallSequencer(dialer, 10*time.Millisecond, nil)

	result := sequencer.Run(context.Background(), CallPlan{
		EventID:  "evt-1",
		Contacts: []models.EmergencyContact{callOnly(1, 1), callOnly(2, 2), callOnly(3, 3)},
	})

	assert.Equal(t, ABANDONED_CALL, result.State)
	assert.Equal(t, []uint{1, 2}, result.Dialed)
	assert.ErrorIs(t, result.Err, ErrDialerUnavailable)
}

func TestSequencerMovesOnWhenOneContactCannotBeCalled(t *testing.T) {
	dialer := &fakeDialer{behavior: map[uint]string{1: reject, 2: answer}}
	sequencer := NewCallSequencer(dialer, 10*time.Millisecond, nil)

	result := sequencer.Run(context.Background(), CallPlan{
		EventID:  "evt-1",
		Contacts: []models.EmergencyContact{callOnly(1, 1), callOnly(2, 2)},
	})

	assert.Equal(t, REACHED_CALL, result.State)
	assert.Equal(t, []uint{1, 2}, dialer.Dialed())
	assert.Equal(t, []uint{1}, result.Failed)
	if assert.NotNil(t, result.Reached) {
		assert.Equal(t, uint(2), *result.Reached)
	}
	assert.Nil(t, result.Err)
}

func TestSequencerExhaustedWhenEveryContactIsRejected(t *testing.T) {
	dialer := &fakeDialer{behavior: map[uint]string{1: reject, 2: reject}}
	texter := &fakeTexter{}
	sequencer := NewCallSequencer(dialer, 10*time.Millisecond, nil).WithFallbackTexter(texter)

	result := sequencer.Run(context.Background(), CallPlan{
		EventID:  "evt-1",
		Contacts: []models.EmergencyContact{callOnly(1, 1), callOnly(2, 2)},
	})

	assert.Equal(t, EXHAUSTED_CALL, result.State)
	assert.Equal(t, []uint{1, 2}, result.Failed)
	assert.Len(t, texter.to, 2)
}

func TestSequencerWithoutContactsStaysIdle(t *testing.T) {
	dialer := &fakeDialer{}
	result := NewCallSequencer(dialer, 0, nil).Run(context.Background(), CallPlan{EventID: "evt-1"})

	assert.Equal(t, IDLE_CALL, result.State)
	assert.Empty(t, result.Dialed)
	assert.Empty(t, dialer.Dialed())
}

func TestSequencerStopsWhenContextIsCancelled(t *testing.T) {
	dialer := &fakeDialer{behavior: map[uint]string{}}
	sequencer := NewCallSequencer(dialer, time.Hour, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := sequencer.Run(ctx, CallPlan{
		EventID:  "evt-1",
		Contacts: []models.EmergencyContact{callOnly(1, 1), callOnly(2, 2)},
	})

	assert.Equal(t, ABANDONED_CALL, result.State)
	assert.Equal(t, []uint{1}, result.Dialed)
}
