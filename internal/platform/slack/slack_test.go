package slack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu          sync.Mutex
	authResp    *slackapi.AuthTestResponse
	authErr     error
	authCalls   int
	joinErr     error
	joinCalls   int
	history     []slackapi.Message
	historyErr  error
	historyReq  *slackapi.GetConversationHistoryParameters
	replyPages  [][]slackapi.Message
	replyErr    error
	replyReqs   []slackapi.GetConversationRepliesParameters
	posted      []string
	postTS      string
	postErr     error
	postErrOnce error
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123"},
		postTS:   "1700000000.000900",
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authCalls++
	return m.authResp, m.authErr
}

func (m *mockSlackClient) JoinConversation(channelID string) (*slackapi.Channel, string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinCalls++
	return nil, "", nil, m.joinErr
}

func (m *mockSlackClient) GetConversationHistory(params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyReq = params
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return &slackapi.GetConversationHistoryResponse{Messages: m.history}, nil
}

func (m *mockSlackClient) GetConversationReplies(params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyReqs = append(m.replyReqs, *params)
	if m.replyErr != nil {
		return nil, false, "", m.replyErr
	}
	page := len(m.replyReqs) - 1
	if page >= len(m.replyPages) {
		return nil, false, "", nil
	}
	hasMore := page < len(m.replyPages)-1
	next := ""
	if hasMore {
		next = "cursor-next"
	}
	return m.replyPages[page], hasMore, next, nil
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErrOnce != nil {
		err := m.postErrOnce
		m.postErrOnce = nil
		return "", "", err
	}
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, channelID)
	return channelID, m.postTS, nil
}

func msg(ts, user, text, threadTS string) slackapi.Message {
	return slackapi.Message{Msg: slackapi.Msg{Timestamp: ts, User: user, Text: text, ThreadTimestamp: threadTS}}
}

func newTestClient(t *testing.T, mock *mockSlackClient) *Client {
	t.Helper()
	c, err := New(ClientOpts{API: mock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(ClientOpts{})
	if err == nil {
		t.Fatal("expected error without token")
	}
	if !strings.Contains(err.Error(), "bot token is required") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestNew_WithToken(t *testing.T) {
	c, err := New(ClientOpts{BotToken: "xoxb-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.api == nil {
		t.Error("expected real API client")
	}
}

func TestRecentMessages(t *testing.T) {
	mock := newMockSlackClient()
	mock.history = []slackapi.Message{
		msg("1700000000.000300", "U2", "third", ""),
		msg("1700000000.000200", "U1", "second", "1700000000.000200"),
		{Msg: slackapi.Msg{Timestamp: "1700000000.000150", User: "U3", SubType: "channel_join"}},
		msg("1700000000.000100", "U1", "first", ""),
	}
	c := newTestClient(t, mock)

	got, err := c.RecentMessages(context.Background(), "C01", 5)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (join message dropped)", len(got))
	}
	if got[0].ID != "1700000000.000300" || got[2].ID != "1700000000.000100" {
		t.Errorf("order = %v, want newest first", []string{got[0].ID, got[1].ID, got[2].ID})
	}
	if got[1].ThreadID != "1700000000.000200" || got[1].AuthorID != "U1" {
		t.Errorf("got[1] = %+v", got[1])
	}
	if mock.historyReq.Limit != 5 || mock.historyReq.ChannelID != "C01" {
		t.Errorf("history params = %+v", mock.historyReq)
	}
	if mock.joinCalls != 1 {
		t.Errorf("joinCalls = %d, want 1", mock.joinCalls)
	}

	// Second call does not rejoin.
	if _, err := c.RecentMessages(context.Background(), "C01", 5); err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if mock.joinCalls != 1 {
		t.Errorf("joinCalls = %d, want 1 after second fetch", mock.joinCalls)
	}
}

func TestRecentMessages_JoinFailureIgnored(t *testing.T) {
	mock := newMockSlackClient()
	mock.joinErr = errors.New("method_not_supported_for_channel_type")
	mock.history = []slackapi.Message{msg("1.000001", "U1", "hi", "")}
	c := newTestClient(t, mock)

	got, err := c.RecentMessages(context.Background(), "G01", 5)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestRecentMessages_Error(t *testing.T) {
	mock := newMockSlackClient()
	mock.historyErr = errors.New("channel_not_found")
	c := newTestClient(t, mock)

	_, err := c.RecentMessages(context.Background(), "C01", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "conversation history") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestRepliesSince_ExcludesParentAndPaginates(t *testing.T) {
	mock := newMockSlackClient()
	mock.replyPages = [][]slackapi.Message{
		{
			msg("100.000000", "U1", "parent", "100.000000"),
			msg("102.000000", "U1", "b", "100.000000"),
		},
		{
			msg("101.000000", "U2", "a", "100.000000"),
		},
	}
	c := newTestClient(t, mock)

	got, err := c.RepliesSince(context.Background(), "C01", "100.000000", "100.500000")
	if err != nil {
		t.Fatalf("RepliesSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "101.000000" || got[1].ID != "102.000000" {
		t.Errorf("order = %s,%s; want ascending", got[0].ID, got[1].ID)
	}
	if len(mock.replyReqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(mock.replyReqs))
	}
	if mock.replyReqs[0].Oldest != "100.500000" {
		t.Errorf("Oldest = %q, want since", mock.replyReqs[0].Oldest)
	}
	if mock.replyReqs[1].Cursor != "cursor-next" {
		t.Errorf("second Cursor = %q, want cursor-next", mock.replyReqs[1].Cursor)
	}
}

func TestRepliesSince_EmptySinceUsesThread(t *testing.T) {
	mock := newMockSlackClient()
	c := newTestClient(t, mock)

	if _, err := c.RepliesSince(context.Background(), "C01", "100.000000", ""); err != nil {
		t.Fatalf("RepliesSince: %v", err)
	}
	if mock.replyReqs[0].Oldest != "100.000000" {
		t.Errorf("Oldest = %q, want thread ts", mock.replyReqs[0].Oldest)
	}
}

func TestPostReply(t *testing.T) {
	mock := newMockSlackClient()
	c := newTestClient(t, mock)

	ts, err := c.PostReply(context.Background(), "C01", "hello", "100.000000")
	if err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if ts != "1700000000.000900" {
		t.Errorf("ts = %q, want echoed ts", ts)
	}
	if len(mock.posted) != 1 || mock.posted[0] != "C01" {
		t.Errorf("posted = %v", mock.posted)
	}
}

func TestPostReply_FallsBackToThread(t *testing.T) {
	mock := newMockSlackClient()
	mock.postTS = ""
	c := newTestClient(t, mock)

	ts, err := c.PostReply(context.Background(), "C01", "hello", "100.000000")
	if err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if ts != "100.000000" {
		t.Errorf("ts = %q, want parent ts", ts)
	}
}

func TestPostReply_RetriesOnRateLimit(t *testing.T) {
	mock := newMockSlackClient()
	mock.postErrOnce = &slackapi.RateLimitedError{RetryAfter: time.Second}
	c := newTestClient(t, mock)

	if _, err := c.PostReply(context.Background(), "C01", "hello", "100.000000"); err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if len(mock.posted) != 1 {
		t.Errorf("posted = %d, want 1 after retry", len(mock.posted))
	}
}

func TestPostReply_NonRateLimitErrorNotRetried(t *testing.T) {
	mock := newMockSlackClient()
	mock.postErr = errors.New("not_in_channel")
	c := newTestClient(t, mock)

	_, err := c.PostReply(context.Background(), "C01", "hello", "100.000000")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not_in_channel") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestRetryOnRateLimit_GivesUp(t *testing.T) {
	c := newTestClient(t, newMockSlackClient())
	calls := 0
	err := c.retryOnRateLimit(context.Background(), func() error {
		calls++
		return &slackapi.RateLimitedError{}
	})
	if err == nil {
		t.Fatal("expected error after retries")
	}
	if calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, maxRetries+1)
	}
}

func TestBotUserID_Cached(t *testing.T) {
	mock := newMockSlackClient()
	c := newTestClient(t, mock)

	for i := 0; i < 2; i++ {
		id, err := c.BotUserID(context.Background())
		if err != nil {
			t.Fatalf("BotUserID: %v", err)
		}
		if id != "U_BOT_123" {
			t.Errorf("BotUserID = %q, want U_BOT_123", id)
		}
	}
	if mock.authCalls != 1 {
		t.Errorf("authCalls = %d, want 1", mock.authCalls)
	}
}

func TestBotUserID_Error(t *testing.T) {
	mock := newMockSlackClient()
	mock.authErr = errors.New("invalid_auth")
	c := newTestClient(t, mock)

	if _, err := c.BotUserID(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestToMessage_BotIDFallback(t *testing.T) {
	m := toMessage(slackapi.Message{Msg: slackapi.Msg{Timestamp: "1.0", BotID: "B01", Text: "x"}})
	if m.AuthorID != "B01" {
		t.Errorf("AuthorID = %q, want B01", m.AuthorID)
	}
}
