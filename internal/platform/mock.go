package platform

import (
	"context"
	"fmt"
	"sync"
)

// Post is a reply recorded by MockPlatform.
type Post struct {
	ChannelID string
	ThreadID  string
	Text      string
	ID        string
}

// MockPlatform implements Platform for testing. Messages and replies are
// pre-configured per channel/thread; posts are recorded in order.
type MockPlatform struct {
	mu         sync.Mutex
	botUserID  string
	messages   map[string][]Message // channelID -> newest first
	replies    map[string][]Message // "channelID:threadID" -> as configured
	posts      []Post
	sinceCalls []string

	// NextPostID returns the ID for a new post. Nil means the platform
	// does not echo an ID (PostReply returns "").
	NextPostID func(threadID string) string

	RecentErr  map[string]error // channelID -> error
	RepliesErr map[string]error // threadID -> error
	PostErr    error
	BotErr     error
}

// NewMockPlatform creates a MockPlatform whose bot posts as botUserID.
func NewMockPlatform(botUserID string) *MockPlatform {
	return &MockPlatform{
		botUserID:  botUserID,
		messages:   make(map[string][]Message),
		replies:    make(map[string][]Message),
		RecentErr:  make(map[string]error),
		RepliesErr: make(map[string]error),
	}
}

// RecentMessages returns the configured messages, truncated to limit.
func (m *MockPlatform) RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.RecentErr[channelID]; err != nil {
		return nil, err
	}
	msgs := m.messages[channelID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// RepliesSince returns every configured reply for the thread regardless of
// since, leaving marker filtering to the caller. since is recorded.
func (m *MockPlatform) RepliesSince(ctx context.Context, channelID, threadID, since string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinceCalls = append(m.sinceCalls, since)
	if err := m.RepliesErr[threadID]; err != nil {
		return nil, err
	}
	msgs := m.replies[channelID+":"+threadID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// PostReply records the post.
func (m *MockPlatform) PostReply(ctx context.Context, channelID, text, threadID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PostErr != nil {
		return "", m.PostErr
	}
	if channelID == "" || threadID == "" {
		return "", fmt.Errorf("mock platform: channel and thread are required")
	}
	id := ""
	if m.NextPostID != nil {
		id = m.NextPostID(threadID)
	}
	m.posts = append(m.posts, Post{ChannelID: channelID, ThreadID: threadID, Text: text, ID: id})
	return id, nil
}

// BotUserID returns the configured bot user ID.
func (m *MockPlatform) BotUserID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BotErr != nil {
		return "", m.BotErr
	}
	return m.botUserID, nil
}

// --- Test helpers ---

// SetMessages configures a channel's recent messages (newest first).
func (m *MockPlatform) SetMessages(channelID string, msgs []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[channelID] = msgs
}

// SetReplies configures a thread's replies.
func (m *MockPlatform) SetReplies(channelID, threadID string, msgs []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[channelID+":"+threadID] = msgs
}

// Posts returns a copy of all recorded posts in order.
func (m *MockPlatform) Posts() []Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Post, len(m.posts))
	copy(out, m.posts)
	return out
}

// SinceCalls returns the since markers passed to RepliesSince, in order.
func (m *MockPlatform) SinceCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sinceCalls))
	copy(out, m.sinceCalls)
	return out
}
