package notifier

import (
	"errors"
	"fmt"

	"github.com/ibeckermayer/tootrank/internal/config"
	"github.com/ibeckermayer/tootrank/internal/digest"
	"github.com/ibeckermayer/tootrank/internal/notifier/providers"
)

// ErrDisabled is returned by NewFromConfig when no provider is configured.
var ErrDisabled = errors.New("email delivery is not configured")

// Notifier handles sending digest notifications
type Notifier struct {
	sender Sender
	to     string
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a new notifier delivering to the given address
func New(sender Sender, to string) *Notifier {
	return &Notifier{sender: sender, to: to}
}

// NewFromConfig creates a notifier based on configuration
func NewFromConfig(cfg config.EmailConfig) (*Notifier, error) {
	var sender Sender

	switch cfg.Provider {
	case "":
		return nil, ErrDisabled
	case "smtp":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	if cfg.ToAddr == "" {
		return nil, fmt.Errorf("email provider %s has no to_address", cfg.Provider)
	}
	return New(sender, cfg.ToAddr), nil
}

// SendDigest mails a rendered digest
func (n *Notifier) SendDigest(d *digest.Digest) error {
	return n.sender.Send(n.to, d.Title, d.HTMLBody, d.PlainBody)
}
