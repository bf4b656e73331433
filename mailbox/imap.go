package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/dhcgn/mail-triage/model"
)

// FetchUnread returns up to max of the newest unread messages in ascending
// UID order, leaving out UIDs for which skip reports true. Bodies are fetched
// with BODY.PEEK[] so nothing is marked read.
// Messages that fail to parse are logged and left out.
func (c *Client) FetchUnread(ctx context.Context, max int, skip func(id string) bool) ([]model.Message, error) {
	client, cleanup, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := c.selectFolder(client); err != nil {
		return nil, err
	}

	criteria := &imapv2.SearchCriteria{NotFlag: []imapv2.Flag{imapv2.FlagSeen}}
	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unread: %w", err)
	}

	uids := newest(data.AllUIDs(), max, skip)
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	fetchOptions := &imapv2.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{section},
	}
	buffers, err := client.Fetch(imapv2.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch unread: %w", err)
	}
	sort.Slice(buffers, func(i, j int) bool { return buffers[i].UID < buffers[j].UID })

	messages := make([]model.Message, 0, len(buffers))
	for _, buf := range buffers {
		id := strconv.FormatUint(uint64(buf.UID), 10)
		raw := buf.FindBodySection(section)
		if len(raw) == 0 {
			if c.logger != nil {
				c.logger.Warn("fetched message without body", "messageID", id)
			}
			continue
		}

		msg, err := ParseMessage(id, raw)
		if err != nil {
			if c.logger != nil {
				c.logger.Error("failed to parse message", "messageID", id, "err", err)
			}
			continue
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = buf.InternalDate
		}
		messages = append(messages, msg)
	}

	if c.logger != nil {
		c.logger.Debug("fetched unread messages", "unread", len(data.AllUIDs()), "fetched", len(messages))
	}
	return messages, nil
}

// Tag copies the message into the label mailbox, creating it when needed.
// A failed CREATE is only reported when the COPY fails too.
func (c *Client) Tag(ctx context.Context, id, label string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	client, cleanup, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.selectFolder(client); err != nil {
		return err
	}
	// some servers answer CREATE on an existing mailbox with a bare NO
	createErr := c.ensureMailbox(client, label)
	if _, err := client.Copy(imapv2.UIDSetNum(uid), label).Wait(); err != nil {
		err = fmt.Errorf("copy %s to %s: %w", id, label, err)
		return errors.Join(createErr, err)
	}
	if createErr != nil && c.logger != nil {
		c.logger.Debug("label create failed, copy succeeded", "label", label, "err", createErr)
	}

	if c.logger != nil {
		c.logger.Info("label applied", "messageID", id, "label", label)
	}
	return nil
}

// MarkRead sets the \Seen flag on the message.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	client, cleanup, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.selectFolder(client); err != nil {
		return err
	}

	flags := &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagSeen},
	}
	if err := client.Store(imapv2.UIDSetNum(uid), flags, nil).Close(); err != nil {
		return fmt.Errorf("mark %s read: %w", id, err)
	}
	return nil
}

// newest keeps the max highest UIDs not matched by skip, in ascending order.
func newest(uids []imapv2.UID, max int, skip func(id string) bool) []imapv2.UID {
	sorted := make([]imapv2.UID, 0, len(uids))
	for _, uid := range uids {
		if skip != nil && skip(strconv.FormatUint(uint64(uid), 10)) {
			continue
		}
		sorted = append(sorted, uid)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if max > 0 && len(sorted) > max {
		sorted = sorted[len(sorted)-max:]
	}
	return sorted
}
