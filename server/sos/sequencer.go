package sos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/metrics"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/utils"
	"go.uber.org/zap"
)

const DEFAULT_CALL_INTERVAL = 15 * time.Second

type CallState string

const (
	IDLE_CALL      CallState = "idle"
	DIALING_CALL   CallState = "dialing"
	REACHED_CALL   CallState = "reached"
	EXHAUSTED_CALL CallState = "exhausted"
	// ABANDONED_CALL means the dialing subsystem failed mid sequence
	ABANDONED_CALL CallState = "abandoned"
)

type DialOutcome int

const (
	NO_ANSWER DialOutcome = iota
	ANSWERED
)

type DialRequest struct {
	EventID     string
	Contact     models.EmergencyContact
	CallerName  string
	CallerPhone string
	IsTest      bool
}

// ErrDialerUnavailable is returned, possibly wrapped, by a Dialer whose
// backing service cannot place calls at all.
var ErrDialerUnavailable = errors.New("dialer is unavailable")

// Dialer calls one contact. It returns ANSWERED once the contact confirms
// the call, or NO_ANSWER when ctx runs out first. An error wrapping
// ErrDialerUnavailable ends the sequence. Any other error only means
// this contact could not be called.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (DialOutcome, error)
}

// Texter sends a plain sms
type Texter interface {
	SendMessage(to, msg string) error
}

type CallPlan struct {
	EventID     string
	CallerName  string
	CallerPhone string
	Latitude    float64
	Longitude   float64
	IsTest      bool
	Contacts    []models.EmergencyContact
}

type SequenceResult struct {
	State   CallState
	Dialed  []uint
	Failed  []uint
	Reached *uint
	Err     error
}

// CallSequencer dials call-only contacts one after the other, lowest
// priority value first, giving each 'interval' to answer. It stops at the
// first contact that answers.
type CallSequencer struct {
	dialer   Dialer
	texter   Texter
	interval time.Duration
	logg     *zap.SugaredLogger
}

func NewCallSequencer(dialer Dialer, interval time.Duration, logg *zap.SugaredLogger) *CallSequencer {
	if interval <= 0 {
		interval = DEFAULT_CALL_INTERVAL
	}

	return &CallSequencer{dialer: dialer, interval: interval, logg: logger.OrNop(logg)}
}

// WithFallbackTexter makes the sequencer text every dialed contact
// when nobody answered.
func (s *CallSequencer) WithFallbackTexter(texter Texter) *CallSequencer {
	s.texter = texter
	return s
}

func (s *CallSequencer) Run(ctx context.Context, plan CallPlan) SequenceResult {
	result := SequenceResult{State: IDLE_CALL}

	contacts := callOnlyByPriority(plan.Contacts)
	if len(contacts) == 0 {
		return result
	}

	for i := range contacts {
		contact := contacts[i]
		result.State = DIALING_CALL
		result.Dialed = append(result.Dialed, contact.ID)
		s.logInfof("event=%v dialing contact id=%v priority=%v (%v/%v)",
			plan.EventID, contact.ID, contact.Priority, i+1, len(contacts))

		outcome, err := s.dial(ctx, plan, contact)
		if err != nil && !isDialerDown(ctx, err) {
			result.Failed = append(result.Failed, contact.ID)
			s.logg.Warnf(colors.Yellow("[call sequencer] ")+"event=%v could not call contact id=%v: %v", plan.EventID, contact.ID, err)
			continue
		}
		if err != nil {
			result.State = ABANDONED_CALL
			result.Err = err
			s.logg.Errorf(colors.Red("[call sequencer] ")+"event=%v abandoned at contact id=%v: %v", plan.EventID, contact.ID, err)
			metrics.CallSequences.WithLabelValues(string(result.State)).Inc()
			return result
		}

		if outcome == ANSWERED {
			reached := contact.ID
			result.State = REACHED_CALL
			result.Reached = &reached
			s.logInfof("event=%v contact id=%v answered", plan.EventID, contact.ID)
			metrics.CallSequences.WithLabelValues(string(result.State)).Inc()
			return result
		}

		s.logInfof("event=%v contact id=%v did not answer", plan.EventID, contact.ID)
	}

	result.State = EXHAUSTED_CALL
	s.logg.Warnf(colors.Yellow("[call sequencer] ")+"event=%v nobody answered after %v call(s)", plan.EventID, len(contacts))
	metrics.CallSequences.WithLabelValues(string(result.State)).Inc()
	s.textFallback(plan, contacts)

	return result
}

func (s *CallSequencer) dial(ctx context.Context, plan CallPlan, contact models.EmergencyContact) (DialOutcome, error) {
	if err := ctx.Err(); err != nil {
		return NO_ANSWER, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	outcome, err := s.dialer.Dial(dialCtx, DialRequest{
		EventID:     plan.EventID,
		Contact:     contact,
		CallerName:  plan.CallerName,
		CallerPhone: plan.CallerPhone,
		IsTest:      plan.IsTest,
	})

	// running out of time on this contact is a timeout, not a failure
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return NO_ANSWER, nil
	}

	return outcome, err
}

// isDialerDown reports whether err ends the whole sequence
func isDialerDown(ctx context.Context, err error) bool {
	return errors.Is(err, ErrDialerUnavailable) || ctx.Err() != nil
}

func (s *CallSequencer) textFallback(plan CallPlan, contacts []models.EmergencyContact) {
	if s.texter == nil {
		return
	}

	msg := fmt.Sprintf("SOS from %s: we could not reach you by phone. Their location: %s",
		plan.CallerName, utils.MapLink(plan.Latitude, plan.Longitude))
	if plan.IsTest {
		msg = "[TEST] " + msg
	}

	for _, contact := range contacts {
		if err := s.texter.SendMessage(contact.PhoneNumber, msg); err != nil {
			s.logg.Warnf(colors.Yellow("[call sequencer] ")+"event=%v sms to contact id=%v failed: %v", plan.EventID, contact.ID, err)
		}
	}
}

func (s *CallSequencer) logInfof(template string, args ...interface{}) {
	s.logg.Infof(colors.Cyan("[call sequencer] ")+template, args...)
}

// callOnlyByPriority keeps call-only contacts that have a phone number,
// sorted by ascending priority. Ties keep their original order.
func callOnlyByPriority(contacts []models.EmergencyContact) []models.EmergencyContact {
	callOnly := []models.EmergencyContact{}
	for _, contact := range contacts {
		if contact.IsCallOnly() && contact.PhoneNumber != "" {
			callOnly = append(callOnly, contact)
		}
	}

	sort.SliceStable(callOnly, func(i, j int) bool {
		return callOnly[i].Priority < callOnly[j].Priority
	})

	return callOnly
}
