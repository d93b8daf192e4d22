package mailer

import (
	"context"
	"errors"

	"github.com/Daskott/guardian/server/breaker"
	"github.com/Daskott/guardian/shared"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrProviderUnavailable = errors.New("email provider is unavailable")

type Email struct {
	To      string
	Subject string
	HTML    string
	// Tags are passed through to providers that support them
	Tags map[string]string
}

// Provider delivers one email and returns the provider's message id
type Provider interface {
	Send(ctx context.Context, email Email) (string, error)
}

// NewProvider builds the provider named in cfg, wrapped in a circuit breaker
func NewProvider(cfg shared.EmailConfig, logg *zap.SugaredLogger) (Provider, error) {
	var provider Provider

	switch cfg.Provider {
	case "resend":
		provider = NewResendProvider(cfg.APIKey, cfg.From)
	case "log":
		provider = NewLogProvider(logg)
	default:
		return nil, errors.New("unsupported email provider " + cfg.Provider)
	}

	return WithBreaker(provider, breaker.NewCircuitBreaker("email-provider", logg)), nil
}

type breakerProvider struct {
	provider Provider
	cb       *gobreaker.CircuitBreaker
}

// WithBreaker stops calling provider for a while once it keeps failing
func WithBreaker(provider Provider, cb *gobreaker.CircuitBreaker) Provider {
	return &breakerProvider{provider: provider, cb: cb}
}

func (p *breakerProvider) Send(ctx context.Context, email Email) (string, error) {
	messageID, err := p.cb.Execute(func() (interface{}, error) {
		return p.provider.Send(ctx, email)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrProviderUnavailable
	}
	if err != nil {
		return "", err
	}

	return messageID.(string), nil
}
