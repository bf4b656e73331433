package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

var ErrInvalidMessageID = errors.New("message id is not an IMAP UID")

// Options configures the IMAP and SMTP connections of one mailbox account.
type Options struct {
	IMAPHost           string
	IMAPPort           int
	SMTPHost           string
	SMTPPort           int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
}

// Client talks to the support mailbox. Every operation opens its own IMAP
// connection so a dropped session never poisons the next poll.
type Client struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.IMAPHost == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.IMAPPort <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.SMTPHost == "" {
		return nil, fmt.Errorf("smtp host is empty")
	}
	if opts.SMTPPort <= 0 {
		return nil, fmt.Errorf("smtp port must be positive")
	}
	if opts.Username == "" {
		return nil, fmt.Errorf("mailbox user is empty")
	}
	// app passwords are displayed in groups of four
	opts.Password = strings.ReplaceAll(opts.Password, " ", "")
	if opts.Password == "" {
		return nil, fmt.Errorf("mailbox password is empty")
	}
	return &Client{opts: opts, logger: logger}, nil
}

// Address returns the mailbox address replies are sent from.
func (c *Client) Address() string {
	return c.opts.Username
}

// Verify logs in and out once to validate the credentials.
func (c *Client) Verify(ctx context.Context) error {
	_, cleanup, err := c.dial(ctx)
	if err != nil {
		return err
	}
	cleanup()

	if c.logger != nil {
		c.logger.Info("mailbox credentials verified", "user", c.opts.Username, "host", c.opts.IMAPHost)
	}
	return nil
}

func (c *Client) folder() string {
	if c.opts.Folder == "" {
		return "INBOX"
	}
	return c.opts.Folder
}

func (c *Client) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(c.opts.IMAPHost, strconv.Itoa(c.opts.IMAPPort))
	options := &imapclient.Options{}

	if c.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         c.opts.IMAPHost,
			InsecureSkipVerify: c.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if c.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	if err := client.Login(c.opts.Username, c.opts.Password).Wait(); err != nil {
		stopClose()
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if c.logger != nil {
		c.logger.Debug("imap connection established", "address", address, "user", c.opts.Username, "tls", c.opts.UseTLS)
	}

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil && c.logger != nil {
				c.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil && c.logger != nil {
			c.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (c *Client) selectFolder(client *imapclient.Client) error {
	if _, err := client.Select(c.folder(), nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", c.folder(), err)
	}
	return nil
}

// ensureMailbox creates the label mailbox unless it already exists.
func (c *Client) ensureMailbox(client *imapclient.Client, name string) error {
	if err := client.Create(name, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			if c.logger != nil {
				c.logger.Debug("imap mailbox already exists", "mailbox", name)
			}
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", name, err)
	}

	if c.logger != nil {
		c.logger.Info("imap mailbox created", "mailbox", name)
	}
	return nil
}

func parseUID(id string) (imapv2.UID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMessageID, id)
	}
	return imapv2.UID(n), nil
}

func callDeadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Time{}
}
