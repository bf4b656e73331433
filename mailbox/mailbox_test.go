package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-triage/model"
)

func testOptions() Options {
	return Options{
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		Username: "support@shop.com",
		Password: "abcd efgh ijkl mnop",
		UseTLS:   true,
	}
}

func TestNew_StripsPasswordSpaces(t *testing.T) {
	c, err := New(testOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijklmnop", c.opts.Password)
	assert.Equal(t, "support@shop.com", c.Address())
	assert.Equal(t, "INBOX", c.folder())
}

func TestNew_Validation(t *testing.T) {
	mutations := map[string]func(*Options){
		"imap host": func(o *Options) { o.IMAPHost = "" },
		"imap port": func(o *Options) { o.IMAPPort = 0 },
		"smtp host": func(o *Options) { o.SMTPHost = "" },
		"smtp port": func(o *Options) { o.SMTPPort = -1 },
		"user":      func(o *Options) { o.Username = "" },
		"password":  func(o *Options) { o.Password = "   " },
	}
	for name, mutate := range mutations {
		opts := testOptions()
		mutate(&opts)
		_, err := New(opts, nil)
		assert.Error(t, err, name)
	}
}

func TestNewest(t *testing.T) {
	uids := []imapv2.UID{9, 3, 12, 5, 7}
	assert.Equal(t, []imapv2.UID{7, 9, 12}, newest(uids, 3, nil))
	assert.Equal(t, []imapv2.UID{3, 5, 7, 9, 12}, newest(uids, 10, nil))
	assert.Empty(t, newest(nil, 3, nil))
	// input untouched
	assert.Equal(t, []imapv2.UID{9, 3, 12, 5, 7}, uids)

	handled := func(id string) bool { return id == "9" || id == "12" }
	assert.Equal(t, []imapv2.UID{3, 5, 7}, newest(uids, 3, handled))
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("42")
	require.NoError(t, err)
	assert.Equal(t, imapv2.UID(42), uid)

	for _, id := range []string{"", "0", "abc", "<id@host>", "99999999999"} {
		_, err := parseUID(id)
		assert.True(t, errors.Is(err, ErrInvalidMessageID), "id %q", id)
	}
}

type smtpBackend struct {
	mu   sync.Mutex
	from string
	to   []string
	data []byte
}

func (b *smtpBackend) Login(_ *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	if username != "support@shop.com" || password != "secret" {
		return nil, errors.New("invalid credentials")
	}
	return &smtpSession{b: b}, nil
}

func (b *smtpBackend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return nil, smtp.ErrAuthRequired
}

type smtpSession struct {
	b *smtpBackend
}

func (s *smtpSession) Reset()        {}
func (s *smtpSession) Logout() error { return nil }

func (s *smtpSession) Mail(from string, _ smtp.MailOptions) error {
	s.b.mu.Lock()
	s.b.from = from
	s.b.mu.Unlock()
	return nil
}

func (s *smtpSession) Rcpt(to string) error {
	s.b.mu.Lock()
	s.b.to = append(s.b.to, to)
	s.b.mu.Unlock()
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	s.b.data = data
	s.b.mu.Unlock()
	return nil
}

func startSMTP(t *testing.T) (*smtpBackend, int) {
	t.Helper()
	be := &smtpBackend{}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ErrorLog = nopLogger{}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return be, ln.Addr().(*net.TCPAddr).Port
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}
func (nopLogger) Println(...interface{})        {}

func TestSend(t *testing.T) {
	be, port := startSMTP(t)

	opts := testOptions()
	opts.SMTPHost = "127.0.0.1"
	opts.SMTPPort = port
	opts.Password = "sec ret"
	opts.UseTLS = false

	c, err := New(opts, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.Send(ctx, model.Reply{
		To:          "Jane <jane@customer.com>",
		Subject:     "Re: Refund",
		HTMLBody:    "<p>Done</p>",
		ThreadToken: "<abc@customer.com>",
	})
	require.NoError(t, err)

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Equal(t, "support@shop.com", be.from)
	assert.Equal(t, []string{"jane@customer.com"}, be.to)
	assert.Contains(t, string(be.data), "Subject: Re: Refund")
	assert.Contains(t, string(be.data), "In-Reply-To: <abc@customer.com>")
}

func TestSend_RequiresStartTLS(t *testing.T) {
	_, port := startSMTP(t)

	opts := testOptions()
	opts.SMTPHost = "127.0.0.1"
	opts.SMTPPort = port
	opts.Password = "secret"

	c, err := New(opts, nil)
	require.NoError(t, err)

	err = c.Send(context.Background(), model.Reply{To: "jane@customer.com", Subject: "Re: x", HTMLBody: "<p>x</p>"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")
}

func TestSend_BadCredentials(t *testing.T) {
	_, port := startSMTP(t)

	opts := testOptions()
	opts.SMTPHost = "127.0.0.1"
	opts.SMTPPort = port
	opts.Password = "wrong"
	opts.UseTLS = false

	c, err := New(opts, nil)
	require.NoError(t, err)

	err = c.Send(context.Background(), model.Reply{To: "jane@customer.com", Subject: "Re: x", HTMLBody: "<p>x</p>"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp auth")
}

// bareNoCreate answers every CREATE with a NO that carries no response code.
type bareNoCreate struct {
	imapserver.SessionIMAP4rev2
}

func (bareNoCreate) Create(string, *imapv2.CreateOptions) error {
	return &imapv2.Error{Type: imapv2.StatusResponseTypeNo, Text: "Mailbox exists"}
}

func startIMAP(t *testing.T, bareNo bool, raws ...string) (*imapmemserver.User, Options) {
	t.Helper()

	user := imapmemserver.NewUser("support@shop.com", "secret")
	require.NoError(t, user.Create("INBOX", nil))
	for _, raw := range raws {
		_, err := user.Append("INBOX", bytes.NewReader([]byte(raw)), &imapv2.AppendOptions{})
		require.NoError(t, err)
	}

	mem := imapmemserver.New()
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			if bareNo {
				return bareNoCreate{mem.NewSession().(imapserver.SessionIMAP4rev2)}, nil, nil
			}
			return mem.NewSession(), nil, nil
		},
		Caps:         imapv2.CapSet{imapv2.CapIMAP4rev1: {}, imapv2.CapIMAP4rev2: {}},
		InsecureAuth: true,
		Logger:       nopLogger{},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	opts := testOptions()
	opts.IMAPHost = "127.0.0.1"
	opts.IMAPPort = ln.Addr().(*net.TCPAddr).Port
	opts.Password = "secret"
	opts.UseTLS = false
	return user, opts
}

func rawMessage(n int) string {
	return fmt.Sprintf("From: Customer %d <c%d@customer.com>\r\n"+
		"To: support@shop.com\r\n"+
		"Subject: Question %d\r\n"+
		"Message-Id: <q%d@customer.com>\r\n"+
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n"+
		"Body %d\r\n", n, n, n, n, n)
}

func messageCount(t *testing.T, user *imapmemserver.User, mailbox string) uint32 {
	t.Helper()
	data, err := user.Status(mailbox, &imapv2.StatusOptions{NumMessages: true})
	require.NoError(t, err)
	require.NotNil(t, data.NumMessages)
	return *data.NumMessages
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestClient_IMAPRoundTrip(t *testing.T) {
	user, opts := startIMAP(t, false, rawMessage(1), rawMessage(2), rawMessage(3))
	c, err := New(opts, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Verify(ctx))

	msgs, err := c.FetchUnread(ctx, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, ids(msgs))
	assert.Equal(t, "c2@customer.com", msgs[0].From)
	assert.Equal(t, "Question 2", msgs[0].Subject)
	assert.Equal(t, "Body 2", msgs[0].Body)
	assert.Equal(t, "<q2@customer.com>", msgs[0].ThreadToken)

	// peeking leaves everything unread
	msgs, err = c.FetchUnread(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids(msgs))

	require.NoError(t, c.Tag(ctx, "3", "AUTO_REPLIED"))
	require.NoError(t, c.Tag(ctx, "3", "AUTO_REPLIED"), "existing label is reused")
	assert.Equal(t, uint32(2), messageCount(t, user, "AUTO_REPLIED"))

	require.NoError(t, c.MarkRead(ctx, "3"))
	msgs, err = c.FetchUnread(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(msgs))
}

func TestClient_FetchUnreadSkipsBeforeLimit(t *testing.T) {
	_, opts := startIMAP(t, false, rawMessage(1), rawMessage(2), rawMessage(3))
	c, err := New(opts, nil)
	require.NoError(t, err)

	handled := func(id string) bool { return id == "2" || id == "3" }
	msgs, err := c.FetchUnread(context.Background(), 2, handled)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(msgs))
}

func TestClient_TagAfterBareCreateFailure(t *testing.T) {
	user, opts := startIMAP(t, true, rawMessage(1))
	require.NoError(t, user.Create("AUTO_REPLIED", nil))
	c, err := New(opts, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Tag(ctx, "1", "AUTO_REPLIED"))
	assert.Equal(t, uint32(1), messageCount(t, user, "AUTO_REPLIED"))

	err = c.Tag(ctx, "1", "Missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure mailbox Missing")
	assert.Contains(t, err.Error(), "copy 1 to Missing")
}

func TestClient_VerifyBadPassword(t *testing.T) {
	_, opts := startIMAP(t, false)
	opts.Password = "wrong"
	c, err := New(opts, nil)
	require.NoError(t, err)

	err = c.Verify(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap login failed")
}
