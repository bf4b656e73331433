package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// ReplyGuardFile holds digests of replies that were delivered to the SMTP server.
	ReplyGuardFile = "sent_replies.json"

	defaultReplyGuardSize = 1024
)

// ReplyGuard remembers recently sent replies so a message that is retried
// after a crash or a lost ledger write is not answered twice with the same
// content. Only the most recent digests are kept.
type ReplyGuard struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, struct{}]
	path    string
	persist bool
	logger  *slog.Logger
}

type replyDocument struct {
	ReplyDigests []string `json:"reply_digests"`
}

// NewReplyGuard creates a guard backed by stateDir. When persist is false the
// guard lives only in memory.
func NewReplyGuard(stateDir string, size int, persist bool, logger *slog.Logger) (*ReplyGuard, error) {
	if size <= 0 {
		size = defaultReplyGuardSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("reply guard cache: %w", err)
	}

	guard := &ReplyGuard{cache: cache, persist: persist, logger: logger}
	if !persist {
		return guard, nil
	}

	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	guard.path = filepath.Join(stateDir, ReplyGuardFile)

	var doc replyDocument
	if _, err := readJSON(guard.path, &doc); err != nil {
		if logger != nil {
			logger.Warn("reply guard unreadable, starting empty", "path", guard.path, "err", err)
		}
		return guard, nil
	}
	for _, digest := range doc.ReplyDigests {
		cache.Add(digest, struct{}{})
	}
	return guard, nil
}

// Digest identifies one reply to one message.
func Digest(messageID, to, body string) string {
	sum := sha256.Sum256([]byte(messageID + "\x00" + strings.ToLower(to) + "\x00" + body))
	return hex.EncodeToString(sum[:])
}

func (g *ReplyGuard) Seen(digest string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache.Contains(digest)
}

// Record stores digest and persists the guard. The digest stays in memory
// even if the write fails.
func (g *ReplyGuard) Record(digest string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cache.Add(digest, struct{}{})
	if !g.persist {
		return nil
	}
	if err := writeJSONAtomic(g.path, replyDocument{ReplyDigests: g.cache.Keys()}); err != nil {
		return fmt.Errorf("save reply guard: %w", err)
	}
	return nil
}

func (g *ReplyGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache.Len()
}
