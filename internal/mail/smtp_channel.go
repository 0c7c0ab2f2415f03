package mail

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPChannelConfig configures the SMTP fallback.
type SMTPChannelConfig struct {
	Address  string
	Username string
	Password string
	From     string
	Clock    func() time.Time
	Send     SendFunc
}

// SMTPChannel sends reset messages over SMTP.
type SMTPChannel struct {
	address  string
	username string
	password string
	from     *gomail.Address
	clock    func() time.Time
	send     SendFunc
}

func NewSMTPChannel(cfg SMTPChannelConfig) (*SMTPChannel, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("mail: smtp address is required")
	}
	from, err := gomail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("mail: parse from address: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	send := cfg.Send
	if send == nil {
		send = smtp.SendMail
	}
	return &SMTPChannel{
		address:  cfg.Address,
		username: cfg.Username,
		password: cfg.Password,
		from:     from,
		clock:    clock,
		send:     send,
	}, nil
}

func (c *SMTPChannel) Name() string {
	return "smtp"
}

func (c *SMTPChannel) SendReset(ctx context.Context, message ResetMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, err := gomail.ParseAddress(message.To)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	body, err := c.compose(to, message)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if c.username != "" {
		host, _, err := net.SplitHostPort(c.address)
		if err != nil {
			return fmt.Errorf("mail: smtp address: %w", err)
		}
		auth = smtp.PlainAuth("", c.username, c.password, host)
	}
	if err := c.send(c.address, auth, c.from.Address, []string{to.Address}, body); err != nil {
		return fmt.Errorf("mail: smtp send: %w", err)
	}
	return nil
}

// compose renders a single-part text/plain MIME message.
func (c *SMTPChannel) compose(to *gomail.Address, message ResetMessage) ([]byte, error) {
	var header gomail.Header
	header.SetDate(c.clock())
	header.SetAddressList("From", []*gomail.Address{{Name: message.FromName, Address: c.from.Address}})
	header.SetAddressList("To", []*gomail.Address{to})
	header.SetSubject(fmt.Sprintf("Reset your %s password", message.AppName))
	header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := header.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("mail: message id: %w", err)
	}

	var buffer bytes.Buffer
	writer, err := gomail.CreateSingleInlineWriter(&buffer, header)
	if err != nil {
		return nil, fmt.Errorf("mail: create writer: %w", err)
	}
	if _, err := fmt.Fprintf(writer, "%s\r\n\r\n%s\r\n", message.Intro, message.Link); err != nil {
		return nil, fmt.Errorf("mail: write body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("mail: close writer: %w", err)
	}
	return buffer.Bytes(), nil
}
