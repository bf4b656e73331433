package mbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-triage/model"
)

const archive = `From jane@customer.com Mon Jan  2 15:04:05 2006
From: Jane <jane@customer.com>
Subject: Refund
Message-Id: <one@customer.com>

Where is my refund?

From news@brand.com Mon Jan  2 16:04:05 2006
From: news@brand.com
Subject: Weekly news
List-Unsubscribe: <mailto:unsub@brand.com>

News body

From bob@customer.com Mon Jan  2 17:04:05 2006
From: bob@customer.com
Subject: Login

I cannot log in.
`

func writeArchive(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpen_LoadsMessages(t *testing.T) {
	src, err := Open(Options{Path: writeArchive(t, archive)}, nil)
	require.NoError(t, err)

	msgs, err := src.FetchUnread(context.Background(), 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "one@customer.com", msgs[0].ID)
	assert.Equal(t, "jane@customer.com", msgs[0].From)
	assert.Equal(t, "Where is my refund?", msgs[0].Body)
	assert.Equal(t, "mbox-1", msgs[1].ID)
	assert.Equal(t, "<mailto:unsub@brand.com>", msgs[1].ListUnsubscribe)
	assert.Equal(t, "mbox-2", msgs[2].ID)
}

func TestSource_FetchKeepsNewest(t *testing.T) {
	src, err := Open(Options{Path: writeArchive(t, archive)}, nil)
	require.NoError(t, err)

	msgs, err := src.FetchUnread(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "mbox-1", msgs[0].ID)
	assert.Equal(t, "mbox-2", msgs[1].ID)
}

func TestSource_FetchSkipsBeforeLimit(t *testing.T) {
	src, err := Open(Options{Path: writeArchive(t, archive)}, nil)
	require.NoError(t, err)

	handled := map[string]bool{"mbox-2": true}
	msgs, err := src.FetchUnread(context.Background(), 2, func(id string) bool { return handled[id] })
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one@customer.com", msgs[0].ID)
	assert.Equal(t, "mbox-1", msgs[1].ID)
}

func TestSource_MarkReadAndTag(t *testing.T) {
	src, err := Open(Options{Path: writeArchive(t, archive)}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, src.MarkRead(ctx, "one@customer.com"))
	require.NoError(t, src.Tag(ctx, "one@customer.com", "AUTO_REPLIED"))

	msgs, err := src.FetchUnread(ctx, 10, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, []string{"AUTO_REPLIED"}, src.labels["one@customer.com"])
	assert.Equal(t, 1, src.Tagged())
}

func TestSource_SendWritesOutbox(t *testing.T) {
	outbox := filepath.Join(t.TempDir(), "outbox.mbox")
	src, err := Open(Options{Path: writeArchive(t, archive), Outbox: outbox, From: "support@shop.com"}, nil)
	require.NoError(t, err)

	reply := model.Reply{To: "jane@customer.com", Subject: "Re: Refund", HTMLBody: "<p>On its way</p>"}
	require.NoError(t, src.Send(context.Background(), reply))
	require.NoError(t, src.Send(context.Background(), reply))
	assert.Equal(t, 2, src.Sent())

	count, err := CountMessages(outbox)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var subjects int
	require.NoError(t, Read(outbox, func(m *MboxMessage) error {
		if strings.Contains(string(m.Raw), "Subject: Re: Refund") {
			subjects++
		}
		return nil
	}))
	assert.Equal(t, 2, subjects)
}

func TestSource_SendWithoutOutbox(t *testing.T) {
	src, err := Open(Options{Path: writeArchive(t, archive)}, nil)
	require.NoError(t, err)
	require.NoError(t, src.Send(context.Background(), model.Reply{To: "a@b.c"}))
	assert.Equal(t, 1, src.Sent())
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(Options{}, nil)
	require.Error(t, err)

	_, err = Open(Options{Path: filepath.Join(t.TempDir(), "missing.mbox")}, nil)
	require.Error(t, err)
}

func TestRead_Indexes(t *testing.T) {
	var indexes []int
	require.NoError(t, Read(writeArchive(t, archive), func(m *MboxMessage) error {
		indexes = append(indexes, m.Index)
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2}, indexes)
}
