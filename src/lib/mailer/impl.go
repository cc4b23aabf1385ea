package mailer

import (
	"context"
	"errors"
	"fmt"
	"ticketing/src/config"
	"ticketing/src/lib"
	awslib "ticketing/src/lib/aws"
)

type Sender interface {
	Send(ctx context.Context, input *lib.SendMailInput) error
}

// NewEmailSender picks the mail backend named by EMAIL_BACKEND. The SES
// backend needs an initialized AWS client.
func NewEmailSender(cfg *config.Config, client *lib.AWSSDKClient) (Sender, error) {
	switch cfg.EmailBackend {
	case "ses":
		if client == nil {
			return nil, errors.New("ses email backend requires AWS credentials")
		}
		return awslib.NewSESSender(client.SES()), nil
	case "smtp", "":
		return lib.NewSMTPSender(lib.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		}), nil
	default:
		return nil, fmt.Errorf("unknown email backend %q", cfg.EmailBackend)
	}
}
