// Package platform defines the messaging platform boundary the poller reads
// from and posts to. Implementations live in subpackages (slack, discord).
package platform

import (
	"context"
	"strings"
)

// Message is a chat message as seen by the poller. ID doubles as the
// message timestamp: IDs are totally ordered by CompareTS.
type Message struct {
	ID       string // Slack ts ("1712345678.000100") or Discord snowflake
	AuthorID string
	Text     string
	ThreadID string // root of the thread this message belongs to; empty if none
}

// Platform is the pull-based capability set the poller consumes.
type Platform interface {
	// RecentMessages returns up to limit of the newest messages in a
	// channel, newest first.
	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)

	// RepliesSince returns replies in a thread newer than since (or all
	// replies when since is empty). The thread's parent is never included.
	RepliesSince(ctx context.Context, channelID, threadID, since string) ([]Message, error)

	// PostReply posts text as a reply under threadID and returns the
	// posted message's ID.
	PostReply(ctx context.Context, channelID, text, threadID string) (string, error)

	// BotUserID resolves the author ID the platform uses for our own posts.
	BotUserID(ctx context.Context) (string, error)
}

// IsThreadReply reports whether m is a reply inside another message's
// thread rather than a top-level message.
func IsThreadReply(m Message) bool {
	return m.ThreadID != "" && m.ThreadID != m.ID
}

// CompareTS orders two message IDs numerically, returning -1, 0 or +1.
// Both Slack "seconds.micros" strings and integer snowflakes are handled;
// the empty string sorts before everything.
func CompareTS(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	aInt, aFrac, _ := strings.Cut(a, ".")
	bInt, bFrac, _ := strings.Cut(b, ".")
	aInt = strings.TrimLeft(aInt, "0")
	bInt = strings.TrimLeft(bInt, "0")
	if len(aInt) != len(bInt) {
		return sign(len(aInt) - len(bInt))
	}
	if c := strings.Compare(aInt, bInt); c != 0 {
		return c
	}
	// Equal-length fractions compare lexically once right-padded.
	for len(aFrac) < len(bFrac) {
		aFrac += "0"
	}
	for len(bFrac) < len(aFrac) {
		bFrac += "0"
	}
	return strings.Compare(aFrac, bFrac)
}

// NewerThan reports whether ts is strictly newer than mark.
func NewerThan(ts, mark string) bool {
	return CompareTS(ts, mark) > 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
