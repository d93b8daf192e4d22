package mailer

import (
	"context"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/logger"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// LogProvider writes emails to the log instead of sending them.
// Used in development.
type LogProvider struct {
	logg *zap.SugaredLogger
}

func NewLogProvider(logg *zap.SugaredLogger) *LogProvider {
	return &LogProvider{logg: logger.OrNop(logg)}
}

func (p *LogProvider) Send(ctx context.Context, email Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := "log_" + ksuid.New().String()
	p.logg.Infof(colors.Blue("[log mailer] ")+"id=%v to=%v subject=%q", messageID, email.To, email.Subject)

	return messageID, nil
}
