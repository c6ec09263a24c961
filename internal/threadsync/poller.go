// Package threadsync mirrors chat channels into onboarding dialogues.
//
// Each tick the Poller scans every monitored channel for new top-level
// messages, opening a thread and session for each, then replays new thread
// replies through the dialogue agent. Progress is kept in two durable
// markers: a per-channel cursor (the newest top-level message scanned) and
// a per-thread last_reply_ts. Both only move forward, and a thread's
// existence guards against opening it twice, so a tick interrupted at any
// point is safe to rerun.
package threadsync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/checksumhq/danny/internal/dialogue"
	"github.com/checksumhq/danny/internal/models"
	"github.com/checksumhq/danny/internal/onboarding"
	"github.com/checksumhq/danny/internal/platform"
	"gorm.io/gorm"
)

// DefaultHistoryLimit is the number of recent top-level messages fetched per
// channel per tick.
const DefaultHistoryLimit = 5

// Poller synchronizes monitored channels with the thread registry. It is
// the only writer of cursors, threads and sessions, and must not run two
// ticks at once.
type Poller struct {
	db           *gorm.DB
	platform     platform.Platform
	agent        dialogue.Agent
	historyLimit int
	log          *log.Logger
}

// PollerOpts holds parameters for creating a Poller.
type PollerOpts struct {
	DB           *gorm.DB
	Platform     platform.Platform
	Agent        dialogue.Agent
	HistoryLimit int // default DefaultHistoryLimit
	Logger       *log.Logger
}

// TickReport summarizes one tick.
type TickReport struct {
	Channels         int
	ThreadsCreated   int
	RepliesForwarded int
	Failures         int
}

// NewPoller creates a Poller.
func NewPoller(opts PollerOpts) (*Poller, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("threadsync: db is required")
	}
	if opts.Platform == nil {
		return nil, fmt.Errorf("threadsync: platform is required")
	}
	if opts.Agent == nil {
		return nil, fmt.Errorf("threadsync: agent is required")
	}
	p := &Poller{
		db:           opts.DB,
		platform:     opts.Platform,
		agent:        opts.Agent,
		historyLimit: opts.HistoryLimit,
		log:          opts.Logger,
	}
	if p.historyLimit <= 0 {
		p.historyLimit = DefaultHistoryLimit
	}
	if p.log == nil {
		p.log = log.Default()
	}
	return p, nil
}

// Tick runs one pass over every monitored channel, sequentially: new
// top-level messages first, then thread replies. A failure in one channel
// or thread is logged and counted; it never stops the rest of the tick.
// An error is returned only when the tick could not start.
func (p *Poller) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport

	channels, err := ListChannels(p.db)
	if err != nil {
		return report, err
	}
	if _, err := p.platform.BotUserID(ctx); err != nil {
		return report, fmt.Errorf("threadsync: resolve bot identity: %w", err)
	}

	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Channels++

		created, err := p.SyncNewMessages(ctx, ch)
		report.ThreadsCreated += created
		report.Failures += countErrs(err)

		forwarded, err := p.SyncThreadReplies(ctx, ch)
		report.RepliesForwarded += forwarded
		report.Failures += countErrs(err)
	}

	if report.ThreadsCreated > 0 || report.RepliesForwarded > 0 || report.Failures > 0 {
		p.log.Info("tick complete", "channels", report.Channels, "threads", report.ThreadsCreated,
			"replies", report.RepliesForwarded, "failures", report.Failures)
	} else {
		p.log.Debug("tick complete", "channels", report.Channels)
	}
	return report, nil
}

// SyncNewMessages opens a thread for every new top-level message in ch and
// answers it, then advances the channel cursor to the newest message
// fetched, whether or not each message was acted on. It returns the number
// of threads created. Per-message failures are logged and returned joined.
func (p *Poller) SyncNewMessages(ctx context.Context, ch models.MonitoredChannel) (int, error) {
	logger := p.log.With("channel", ch.ChannelID)

	msgs, err := p.platform.RecentMessages(ctx, ch.ChannelID, p.historyLimit)
	if err != nil {
		logger.Error("fetch messages failed", "err", err)
		return 0, fmt.Errorf("threadsync: fetch %s: %w", ch.ChannelID, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	previous, _, err := GetCursor(p.db, ch.ChannelID)
	if err != nil {
		logger.Error("read cursor failed", "err", err)
		return 0, err
	}
	botID, err := p.platform.BotUserID(ctx)
	if err != nil {
		return 0, fmt.Errorf("threadsync: resolve bot identity: %w", err)
	}
	phase, err := onboarding.ParsePhase(ch.Phase)
	if err != nil {
		logger.Warn("unknown channel phase, using sales", "phase", ch.Phase)
		phase = onboarding.PhaseSales
	}

	sorted := oldestFirst(msgs)
	var errs []error
	created := 0
	for _, m := range sorted {
		if !platform.NewerThan(m.ID, previous) || m.AuthorID == botID || platform.IsThreadReply(m) {
			continue
		}
		exists, err := ThreadExists(p.db, m.ID)
		if err != nil {
			logger.Error("thread lookup failed", "ts", m.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		if exists {
			logger.Debug("thread already registered", "ts", m.ID)
			continue
		}

		ok, err := p.openThread(ctx, ch, m, phase)
		if ok {
			created++
		}
		if err != nil {
			logger.Error("open thread failed", "ts", m.ID, "err", err)
			errs = append(errs, err)
		}
	}

	newest := sorted[len(sorted)-1].ID
	if err := AdvanceCursor(p.db, ch.ChannelID, newest); err != nil {
		logger.Error("advance cursor failed", "ts", newest, "err", err)
		errs = append(errs, err)
	}
	return created, errors.Join(errs...)
}

// openThread registers m as a thread, runs the first dialogue turn and
// posts the answer. created reports whether the thread row was written,
// which holds even when the later steps fail.
func (p *Poller) openThread(ctx context.Context, ch models.MonitoredChannel, m platform.Message, phase onboarding.Phase) (created bool, err error) {
	th, err := CreateThread(p.db, ch.ChannelID, m.ID, phase)
	if errors.Is(err, ErrThreadExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	reply, err := p.agent.RunTurn(ctx, dialogue.Turn{
		SessionID:   th.SessionID,
		Phase:       phase,
		Utterance:   m.Text,
		ChannelName: ch.Name,
	})
	if err != nil {
		return true, fmt.Errorf("threadsync: first turn for %s: %w", m.ID, err)
	}

	replyTS, err := p.platform.PostReply(ctx, ch.ChannelID, reply.Text, m.ID)
	if err != nil {
		return true, fmt.Errorf("threadsync: post reply to %s: %w", m.ID, err)
	}
	if replyTS == "" {
		replyTS = m.ID
	}

	if err := RecordProgress(p.db, m.ID, reply.History, replyTS); err != nil {
		return true, err
	}
	p.log.Info("thread opened", "channel", ch.ChannelID, "ts", m.ID, "session", th.SessionID)
	return true, nil
}

// SyncThreadReplies replays new replies in every thread registered in ch
// through the dialogue agent, oldest first, posting each answer. It
// returns the number of replies forwarded. Per-thread failures are logged
// and returned joined.
func (p *Poller) SyncThreadReplies(ctx context.Context, ch models.MonitoredChannel) (int, error) {
	logger := p.log.With("channel", ch.ChannelID)

	threads, err := ThreadsForChannel(p.db, ch.ChannelID)
	if err != nil {
		logger.Error("load threads failed", "err", err)
		return 0, err
	}
	if len(threads) == 0 {
		return 0, nil
	}
	botID, err := p.platform.BotUserID(ctx)
	if err != nil {
		return 0, fmt.Errorf("threadsync: resolve bot identity: %w", err)
	}

	var errs []error
	forwarded := 0
	for _, th := range threads {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := p.syncThread(ctx, ch, th, botID)
		forwarded += n
		if err != nil {
			logger.Error("thread sync failed", "ts", th.ThreadTS, "err", err)
			errs = append(errs, err)
		}
	}
	return forwarded, errors.Join(errs...)
}

// syncThread processes one thread's new replies. Nothing is written unless
// every reply in the batch was answered and posted.
func (p *Poller) syncThread(ctx context.Context, ch models.MonitoredChannel, th models.ConversationThread, botID string) (int, error) {
	since := ""
	if th.LastReplyTS != nil {
		since = *th.LastReplyTS
	}

	replies, err := p.platform.RepliesSince(ctx, ch.ChannelID, th.ThreadTS, since)
	if err != nil {
		return 0, fmt.Errorf("threadsync: fetch replies %s: %w", th.ThreadTS, err)
	}
	var pending []platform.Message
	for _, r := range replies {
		if r.AuthorID == botID || r.ID == th.ThreadTS || !platform.NewerThan(r.ID, since) {
			continue
		}
		pending = append(pending, r)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	pending = oldestFirst(pending)

	sess, err := onboarding.GetSession(p.db, th.SessionID)
	if err != nil {
		return 0, err
	}
	phase, err := onboarding.ParsePhase(sess.Phase)
	if err != nil {
		return 0, err
	}

	history := []byte(th.History)
	for _, r := range pending {
		reply, err := p.agent.RunTurn(ctx, dialogue.Turn{
			SessionID:   th.SessionID,
			Phase:       phase,
			History:     history,
			Utterance:   r.Text,
			ChannelName: ch.Name,
		})
		if err != nil {
			return 0, fmt.Errorf("threadsync: turn for reply %s in %s: %w", r.ID, th.ThreadTS, err)
		}
		if _, err := p.platform.PostReply(ctx, ch.ChannelID, reply.Text, th.ThreadTS); err != nil {
			return 0, fmt.Errorf("threadsync: post reply in %s: %w", th.ThreadTS, err)
		}
		history = reply.History
	}

	last := pending[len(pending)-1].ID
	if err := RecordProgress(p.db, th.ThreadTS, history, last); err != nil {
		return 0, err
	}
	p.log.Debug("thread advanced", "channel", ch.ChannelID, "ts", th.ThreadTS, "replies", len(pending), "last", last)
	return len(pending), nil
}

// oldestFirst returns msgs sorted by ascending timestamp.
func oldestFirst(msgs []platform.Message) []platform.Message {
	out := make([]platform.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return platform.CompareTS(out[i].ID, out[j].ID) < 0
	})
	return out
}

// countErrs counts the failures carried by err, unwrapping errors.Join.
func countErrs(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
