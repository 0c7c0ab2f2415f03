package mail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultAppName  = "Waypoint"
	defaultFromName = "Waypoint Support"
	resetIntro      = "Click the link below to reset your password:"
)

var (
	// ErrDeliveryFailed indicates no channel accepted the message.
	ErrDeliveryFailed = errors.New("mail: delivery failed")
	// ErrInvalidRecipient indicates an empty or malformed recipient address.
	ErrInvalidRecipient = errors.New("mail: invalid recipient")

	errNoChannels = errors.New("mail: at least one channel is required")
)

// ResetMessage is the content of a password reset email.
type ResetMessage struct {
	To       string
	Link     string
	AppName  string
	FromName string
	Intro    string
}

// Channel delivers reset messages through one transport.
type Channel interface {
	Name() string
	SendReset(ctx context.Context, message ResetMessage) error
}

// SenderConfig wires a Sender.
type SenderConfig struct {
	Primary  Channel
	Fallback Channel
	ResetURL string
	AppName  string
	Logger   *zap.Logger
}

// Sender tries the primary channel and then the fallback exactly once.
type Sender struct {
	primary  Channel
	fallback Channel
	resetURL string
	appName  string
	logger   *zap.Logger
}

func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.Primary == nil && cfg.Fallback == nil {
		return nil, errNoChannels
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	appName := strings.TrimSpace(cfg.AppName)
	if appName == "" {
		appName = defaultAppName
	}
	return &Sender{
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		resetURL: cfg.ResetURL,
		appName:  appName,
		logger:   logger,
	}, nil
}

// SendPasswordReset delivers a reset link to email.
func (s *Sender) SendPasswordReset(ctx context.Context, email string) error {
	recipient := strings.TrimSpace(email)
	if recipient == "" || !strings.Contains(recipient, "@") {
		return ErrInvalidRecipient
	}
	message := ResetMessage{
		To:       recipient,
		Link:     ResetLink(s.resetURL, recipient),
		AppName:  s.appName,
		FromName: defaultFromName,
		Intro:    resetIntro,
	}

	var errs []error
	for _, channel := range []Channel{s.primary, s.fallback} {
		if channel == nil {
			continue
		}
		err := channel.SendReset(ctx, message)
		if err == nil {
			s.logger.Info("password reset sent", zap.String("channel", channel.Name()))
			return nil
		}
		s.logger.Warn("password reset channel failed", zap.String("channel", channel.Name()), zap.Error(err))
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %w", ErrDeliveryFailed, errors.Join(errs...))
}

// ResetLink appends the recipient to base as the email query parameter.
func ResetLink(base, email string) string {
	parsed, err := url.Parse(base)
	if err != nil || base == "" {
		return ""
	}
	query := parsed.Query()
	query.Set("email", email)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
