package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/dhcgn/mail-triage/model"
)

const implicitTLSPort = 465

// Send submits reply over SMTP. Port 465 uses implicit TLS, any other port
// upgrades with STARTTLS when TLS is enabled.
func (c *Client) Send(ctx context.Context, reply model.Reply) error {
	raw, err := BuildReply(c.opts.Username, reply, time.Now())
	if err != nil {
		return fmt.Errorf("compose reply: %w", err)
	}

	client, err := c.dialSMTP(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Auth(sasl.NewPlainClient("", c.opts.Username, c.opts.Password)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(c.opts.Username, nil); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(envelopeAddress(reply.To)); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	if err := client.Quit(); err != nil && c.logger != nil {
		c.logger.Debug("smtp quit failed", "err", err)
	}

	if c.logger != nil {
		c.logger.Info("reply sent", "to", reply.To, "subject", reply.Subject)
	}
	return nil
}

func (c *Client) dialSMTP(ctx context.Context) (*smtp.Client, error) {
	address := net.JoinHostPort(c.opts.SMTPHost, strconv.Itoa(c.opts.SMTPPort))
	tlsConfig := &tls.Config{
		ServerName:         c.opts.SMTPHost,
		InsecureSkipVerify: c.opts.InsecureSkipVerify,
	}

	var (
		conn net.Conn
		err  error
	)
	if c.opts.UseTLS && c.opts.SMTPPort == implicitTLSPort {
		dialer := &tls.Dialer{Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", address)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", address, err)
	}
	_ = conn.SetDeadline(callDeadline(ctx))

	client, err := smtp.NewClient(conn, c.opts.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp greeting: %w", err)
	}
	if err := client.Hello("localhost"); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("smtp hello: %w", err)
	}

	if c.opts.UseTLS && c.opts.SMTPPort != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			_ = client.Close()
			return nil, fmt.Errorf("smtp server %s does not offer STARTTLS", address)
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}

	return client, nil
}
