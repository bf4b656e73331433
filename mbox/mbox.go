package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-triage/mailbox"
	"github.com/dhcgn/mail-triage/model"
)

// Options configures a replay source.
type Options struct {
	// Path is the mbox archive replayed as the inbox.
	Path string
	// Outbox receives sent replies in mbox format. Empty discards them.
	Outbox string
	// From is the envelope sender written to the outbox.
	From string
}

// Source serves the messages of an mbox archive as if they were unread mail
// in a live mailbox. Read flags and labels only live in memory.
type Source struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	messages []model.Message
	read     map[string]bool
	labels   map[string][]string
	sent     int
}

// Open loads every message of the archive. Messages that cannot be parsed are
// logged and skipped.
func Open(opts Options, logger *slog.Logger) (*Source, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if opts.From == "" {
		opts.From = "mail-triage@localhost"
	}

	src := &Source{
		opts:   opts,
		logger: logger,
		read:   make(map[string]bool),
		labels: make(map[string][]string),
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	seen := make(map[string]bool)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			src.logError("mbox message unreadable", idx, err)
			continue
		}

		msg, err := mailbox.ParseMessage(strconv.Itoa(idx), raw)
		if err != nil {
			src.logError("mbox message unparseable", idx, err)
			continue
		}

		// Message-Id when present, archive position otherwise
		id := strings.Trim(msg.ThreadToken, "<>")
		if id == "" {
			id = "mbox-" + strconv.Itoa(idx)
		}
		if seen[id] {
			id = fmt.Sprintf("%s#%d", id, idx)
		}
		seen[id] = true
		msg.ID = id

		src.messages = append(src.messages, msg)
	}

	if logger != nil {
		logger.Info("mbox replay source loaded", "path", path, "messages", len(src.messages))
	}
	return src, nil
}

func (s *Source) logError(msg string, idx int, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "path", s.opts.Path, "index", idx, "err", err)
	}
}

// FetchUnread returns up to max of the last unread messages in archive order,
// leaving out IDs for which skip reports true.
func (s *Source) FetchUnread(ctx context.Context, max int, skip func(id string) bool) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var unread []model.Message
	for _, msg := range s.messages {
		if s.read[msg.ID] || (skip != nil && skip(msg.ID)) {
			continue
		}
		unread = append(unread, msg)
	}
	if max > 0 && len(unread) > max {
		unread = unread[len(unread)-max:]
	}
	return unread, nil
}

// Send appends the rendered reply to the outbox.
func (s *Source) Send(ctx context.Context, reply model.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Outbox == "" {
		s.sent++
		if s.logger != nil {
			s.logger.Info("reply discarded, no outbox configured", "to", reply.To, "subject", reply.Subject)
		}
		return nil
	}

	now := time.Now()
	raw, err := mailbox.BuildReply(s.opts.From, reply, now)
	if err != nil {
		return fmt.Errorf("compose reply: %w", err)
	}

	file, err := os.OpenFile(s.opts.Outbox, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer file.Close()

	writer := mboxlib.NewWriter(file)
	w, err := writer.CreateMessage(s.opts.From, now)
	if err != nil {
		return fmt.Errorf("outbox message: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("outbox write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("outbox close: %w", err)
	}

	s.sent++
	if s.logger != nil {
		s.logger.Info("reply written to outbox", "to", reply.To, "subject", reply.Subject, "outbox", s.opts.Outbox)
	}
	return nil
}

func (s *Source) Tag(ctx context.Context, id, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.labels[id] = append(s.labels[id], label)
	s.mu.Unlock()
	return nil
}

func (s *Source) MarkRead(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.read[id] = true
	s.mu.Unlock()
	return nil
}

// Tagged returns the number of messages that carry at least one label.
func (s *Source) Tagged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, labels := range s.labels {
		if len(labels) > 0 {
			n++
		}
	}
	return n
}

// Sent returns the number of replies handed to Send.
func (s *Source) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// MboxMessage represents a single message from an mbox file for stats.
type MboxMessage struct {
	Index int
	Raw   []byte
}

// Read opens an mbox file and iterates through its messages,
// calling the provided callback for each message.
func Read(path string, callback func(m *MboxMessage) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			// try to continue
			continue
		}

		if err := callback(&MboxMessage{Index: idx, Raw: raw}); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// Just consume the message without parsing
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
