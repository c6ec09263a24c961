// Package slack implements platform.Platform over the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/checksumhq/danny/internal/platform"
	slackapi "github.com/slack-go/slack"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// repliesPageSize is the conversations.replies page size.
	repliesPageSize = 200
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	JoinConversation(channelID string) (*slackapi.Channel, string, []string, error)
	GetConversationHistory(params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error)
	GetConversationReplies(params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Client implements platform.Platform for Slack.
type Client struct {
	api    slackClient
	log    *log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	mu     sync.Mutex
	botID  string
	joined map[string]bool
}

// ClientOpts holds parameters for creating a Slack Client.
type ClientOpts struct {
	BotToken string // xoxb-... Slack bot token
	Logger   *log.Logger
	// For testing: inject a mock client instead of the real Slack API.
	API slackClient
}

// New creates a Slack Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.API == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	c := &Client{
		api:    opts.API,
		log:    opts.Logger,
		sleep:  sleepCtx,
		joined: make(map[string]bool),
	}
	if c.api == nil {
		c.api = slackapi.New(opts.BotToken)
	}
	if c.log == nil {
		c.log = log.Default()
	}
	c.log = c.log.WithPrefix("slack")
	return c, nil
}

// RecentMessages returns up to limit top-level messages from channelID,
// newest first. The bot joins the channel first; a failed join is logged
// and otherwise ignored since private channels reject it.
func (c *Client) RecentMessages(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
	c.join(ctx, channelID)

	var resp *slackapi.GetConversationHistoryResponse
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		resp, apiErr = c.api.GetConversationHistory(&slackapi.GetConversationHistoryParameters{
			ChannelID: channelID,
			Limit:     limit,
		})
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("slack: conversation history %s: %w", channelID, err)
	}

	msgs := make([]platform.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if skipSubtype(m.SubType) {
			continue
		}
		msgs = append(msgs, toMessage(m))
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return platform.CompareTS(msgs[i].ID, msgs[j].ID) > 0
	})
	return msgs, nil
}

// RepliesSince returns the replies in thread threadID posted after since,
// oldest first. The parent message is never included.
func (c *Client) RepliesSince(ctx context.Context, channelID, threadID, since string) ([]platform.Message, error) {
	oldest := since
	if oldest == "" {
		oldest = threadID
	}

	var out []platform.Message
	cursor := ""
	for {
		params := &slackapi.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadID,
			Oldest:    oldest,
			Limit:     repliesPageSize,
			Cursor:    cursor,
		}

		var msgs []slackapi.Message
		var hasMore bool
		var nextCursor string
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			msgs, hasMore, nextCursor, apiErr = c.api.GetConversationReplies(params)
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("slack: conversation replies %s/%s: %w", channelID, threadID, err)
		}

		for _, m := range msgs {
			if m.Timestamp == threadID || skipSubtype(m.SubType) {
				continue
			}
			out = append(out, toMessage(m))
		}

		if !hasMore || nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	sort.SliceStable(out, func(i, j int) bool {
		return platform.CompareTS(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

// PostReply posts text as a threaded reply under threadID and returns the
// new message's ts. Slack always echoes one; threadID is returned if not.
func (c *Client) PostReply(ctx context.Context, channelID, text, threadID string) (string, error) {
	var ts string
	err := c.retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = c.api.PostMessage(channelID,
			slackapi.MsgOptionText(text, false),
			slackapi.MsgOptionTS(threadID),
		)
		return postErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	if ts == "" {
		ts = threadID
	}
	return ts, nil
}

// BotUserID returns the bot's Slack user ID, resolved once via auth.test.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.botID != "" {
		return c.botID, nil
	}
	var auth *slackapi.AuthTestResponse
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		auth, apiErr = c.api.AuthTest()
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: auth test: %w", err)
	}
	c.botID = auth.UserID
	return c.botID, nil
}

// join joins channelID once per process.
func (c *Client) join(ctx context.Context, channelID string) {
	c.mu.Lock()
	done := c.joined[channelID]
	c.mu.Unlock()
	if done {
		return
	}
	err := c.retryOnRateLimit(ctx, func() error {
		_, _, _, apiErr := c.api.JoinConversation(channelID)
		return apiErr
	})
	if err != nil {
		c.log.Debug("join failed", "channel", channelID, "err", err)
		return
	}
	c.mu.Lock()
	c.joined[channelID] = true
	c.mu.Unlock()
}

// toMessage converts a Slack message. Bot posts without a user carry only
// a bot id, which is used as the author.
func toMessage(m slackapi.Message) platform.Message {
	author := m.User
	if author == "" {
		author = m.BotID
	}
	return platform.Message{
		ID:       m.Timestamp,
		AuthorID: author,
		Text:     m.Text,
		ThreadID: m.ThreadTimestamp,
	}
}

// skipSubtype reports whether a message subtype is channel housekeeping
// (joins, topic changes, edits) rather than conversation.
func skipSubtype(subtype string) bool {
	return subtype != "" && subtype != "thread_broadcast"
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func (c *Client) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		c.log.Warn("rate limited", "attempt", attempt+1, "wait", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
