package twilio

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/shared"
	"github.com/segmentio/ksuid"
	"github.com/twilio/twilio-go"
	twilioUtil "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

const VOICE_WEBHOOK_PATH = "/v1/webhooks/twilio/voice"

type ClientWrapper struct {
	client           *twilio.RestClient
	config           shared.TwilioConfig
	requestValidator twilioUtil.RequestValidator
	webhookBaseURL   string
	devMode          bool
	logg             *zap.SugaredLogger
}

// NewClient wraps the twilio rest client. In devMode nothing is sent,
// calls & messages are only logged.
func NewClient(config shared.TwilioConfig, appUrl string, devMode bool, logg *zap.SugaredLogger) *ClientWrapper {
	client := twilio.NewRestClientWithParams(twilio.RestClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})

	return &ClientWrapper{
		client:           client,
		config:           config,
		webhookBaseURL:   appUrl,
		requestValidator: twilioUtil.NewRequestValidator(config.AuthToken),
		devMode:          devMode,
		logg:             logger.OrNop(logg),
	}
}

func (cw *ClientWrapper) SendMessage(to, msg string) error {
	if cw.devMode {
		cw.logInfof("sms to=%v body=%q", to, msg)
		return nil
	}

	params := &openapi.CreateMessageParams{}
	params.SetMessagingServiceSid(cw.config.MessagingServiceSid)
	params.SetTo(to)
	params.SetBody(msg)

	resp, err := cw.client.ApiV2010.CreateMessage(params)
	if err != nil {
		return err
	}

	if resp.ErrorMessage != nil {
		return fmt.Errorf("twilio message to %v: %v", to, *resp.ErrorMessage)
	}

	return nil
}

// CreateCall places an outbound call that runs 'twiml' once answered.
// It returns the call sid.
func (cw *ClientWrapper) CreateCall(to, twiml string, ringSeconds int) (string, error) {
	if cw.devMode {
		sid := "CA_dev_" + ksuid.New().String()
		cw.logInfof("call sid=%v to=%v", sid, to)
		return sid, nil
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(cw.config.CallerNumber)
	params.SetTwiml(twiml)
	if ringSeconds > 0 {
		params.SetTimeout(ringSeconds)
	}

	resp, err := cw.client.ApiV2010.CreateCall(params)
	if err != nil {
		return "", err
	}

	if resp.Sid == nil {
		return "", fmt.Errorf("twilio call to %v: no call sid returned", to)
	}

	return *resp.Sid, nil
}

// HangUp ends a call that is ringing or in progress
func (cw *ClientWrapper) HangUp(callSid string) error {
	if cw.devMode {
		return nil
	}

	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")

	_, err := cw.client.ApiV2010.UpdateCall(callSid, params)
	return err
}

// WebhookURL returns the absolute url twilio should call for 'path'
func (cw *ClientWrapper) WebhookURL(path string) string {
	return fullRequestURL(cw.webhookBaseURL, path)
}

func (cw *ClientWrapper) ValidateRequest(path string, urlValues url.Values, expectedSignature string) bool {
	if cw.devMode {
		return true
	}

	// Get 'urlValues' as map[string]string so it's compatible with twilio request validator
	params := make(map[string]string)
	for key, val := range urlValues {
		params[key] = strings.Join(val, ",")
	}

	return cw.requestValidator.Validate(fullRequestURL(cw.webhookBaseURL, path), params, expectedSignature)
}

func (cw *ClientWrapper) logInfof(template string, args ...interface{}) {
	cw.logg.Infof(colors.Blue("[twilio dev] ")+template, args...)
}

func fullRequestURL(appUrl, path string) string {
	refinedUrl := strings.TrimSuffix(appUrl, "/")

	// Set default scheme to https
	if !strings.HasPrefix(refinedUrl, "http") {
		refinedUrl = "https://" + refinedUrl
	}

	return refinedUrl + path
}
