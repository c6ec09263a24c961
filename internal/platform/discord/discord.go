// Package discord implements platform.Platform over the Discord REST API.
//
// A Discord thread started from a message is a channel whose ID equals the
// starter message ID, so the starter message ID doubles as the thread ID.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"github.com/checksumhq/danny/internal/platform"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate limits.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
	// pageSize is the Discord maximum for channel message pages.
	pageSize = 100
	// maxMessageLen is Discord's per-message content limit.
	maxMessageLen = 2000
	// threadName names threads the bot opens under a starter message.
	threadName = "onboarding"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	User(userID string) (*discordgo.User, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error)
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) User(userID string) (*discordgo.User, error) { return r.s.User(userID) }
func (r *realSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error) {
	return r.s.MessageThreadStartComplex(channelID, messageID, data)
}

// Client implements platform.Platform for Discord.
type Client struct {
	sess        session
	log         *log.Logger
	baseBackoff time.Duration
	mu          sync.Mutex
	botID       string
}

// ClientOpts holds parameters for creating a Discord Client.
type ClientOpts struct {
	BotToken string
	Logger   *log.Logger
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Client. No gateway connection is opened.
func New(opts ClientOpts) (*Client, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	c := &Client{
		sess:        opts.Session,
		log:         opts.Logger,
		baseBackoff: baseBackoff,
	}
	if c.sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		c.sess = &realSession{s: dg}
	}
	if c.log == nil {
		c.log = log.Default()
	}
	c.log = c.log.WithPrefix("discord")
	return c, nil
}

// RecentMessages returns up to limit top-level messages from channelID,
// newest first.
func (c *Client) RecentMessages(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
	var msgs []*discordgo.Message
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msgs, apiErr = c.sess.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: channel messages %s: %w", channelID, err)
	}

	out := make([]platform.Message, 0, len(msgs))
	for _, m := range msgs {
		if !conversational(m) {
			continue
		}
		pm := toMessage(m)
		if m.Thread != nil {
			pm.ThreadID = m.ID
		}
		out = append(out, pm)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return platform.CompareTS(out[i].ID, out[j].ID) > 0
	})
	return out, nil
}

// RepliesSince returns the messages in the thread under starter message
// threadID posted after since, oldest first. A thread that does not exist
// yet has no replies.
func (c *Client) RepliesSince(ctx context.Context, channelID, threadID, since string) ([]platform.Message, error) {
	after := since
	if after == "" || platform.CompareTS(after, threadID) < 0 {
		after = threadID
	}

	var out []platform.Message
	for {
		var msgs []*discordgo.Message
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			msgs, apiErr = c.sess.ChannelMessages(threadID, pageSize, "", after, "", discordgo.WithContext(ctx))
			return apiErr
		})
		if isNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("discord: thread messages %s: %w", threadID, err)
		}

		for _, m := range msgs {
			if !conversational(m) {
				continue
			}
			pm := toMessage(m)
			pm.ThreadID = threadID
			out = append(out, pm)
		}

		if len(msgs) < pageSize {
			break
		}
		after = newestID(msgs)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return platform.CompareTS(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

// PostReply posts text into the thread under threadID, opening the thread
// on first use. Text over the Discord limit is split across messages; the
// ID of the last one is returned.
func (c *Client) PostReply(ctx context.Context, channelID, text, threadID string) (string, error) {
	var lastID string
	for i, chunk := range chunkMessage(text, maxMessageLen) {
		m, err := c.send(ctx, threadID, chunk)
		if i == 0 && isNotFound(err) {
			if err := c.startThread(ctx, channelID, threadID); err != nil {
				return "", err
			}
			m, err = c.send(ctx, threadID, chunk)
		}
		if err != nil {
			return "", fmt.Errorf("discord: send message: %w", err)
		}
		lastID = m.ID
	}
	if lastID == "" {
		lastID = threadID
	}
	return lastID, nil
}

// BotUserID returns the bot's Discord user ID, resolved once.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.botID != "" {
		return c.botID, nil
	}
	var u *discordgo.User
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		u, apiErr = c.sess.User("@me")
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: current user: %w", err)
	}
	c.botID = u.ID
	return c.botID, nil
}

func (c *Client) send(ctx context.Context, channelID, content string) (*discordgo.Message, error) {
	var m *discordgo.Message
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		m, apiErr = c.sess.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
		return apiErr
	})
	return m, err
}

func (c *Client) startThread(ctx context.Context, channelID, messageID string) error {
	err := c.retryOnRateLimit(ctx, func() error {
		_, apiErr := c.sess.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
			Name:                threadName,
			AutoArchiveDuration: 1440, // 24 hours
			Type:                discordgo.ChannelTypeGuildPublicThread,
		})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: create thread: %w", err)
	}
	c.log.Debug("opened thread", "channel", channelID, "thread", messageID)
	return nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (c *Client) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if statusCode(err) != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		c.log.Warn("rate limited", "attempt", attempt+1, "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func toMessage(m *discordgo.Message) platform.Message {
	pm := platform.Message{ID: m.ID, Text: m.Content}
	if m.Author != nil {
		pm.AuthorID = m.Author.ID
	}
	return pm
}

// conversational reports whether m is something a person wrote, as opposed
// to a system notice such as "thread created" or a pin.
func conversational(m *discordgo.Message) bool {
	return m.Type == discordgo.MessageTypeDefault || m.Type == discordgo.MessageTypeReply
}

func newestID(msgs []*discordgo.Message) string {
	newest := ""
	for _, m := range msgs {
		if platform.CompareTS(m.ID, newest) > 0 {
			newest = m.ID
		}
	}
	return newest
}

func statusCode(err error) int {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return 0
	}
	return restErr.Response.StatusCode
}

func isNotFound(err error) bool {
	return err != nil && statusCode(err) == http.StatusNotFound
}

// chunkMessage splits text into chunks of at most maxLen characters.
// It prefers breaking at newlines when possible.
func chunkMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}

		breakAt := -1
		for i := maxLen - 1; i >= maxLen/2; i-- {
			if runes[i] == '\n' {
				breakAt = i
				break
			}
		}

		if breakAt >= 0 {
			chunks = append(chunks, string(runes[:breakAt]))
			runes = runes[breakAt+1:]
		} else {
			chunks = append(chunks, string(runes[:maxLen]))
			runes = runes[maxLen:]
		}
	}
	return chunks
}
