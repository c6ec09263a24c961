package platform

import (
	"context"
	"errors"
	"testing"
)

func TestCompareTS(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "1.0", -1},
		{"1.0", "", 1},
		{"100", "100", 0},
		{"100", "101", -1},
		{"99", "100", -1},
		{"1712345678.000100", "1712345678.000099", 1},
		{"1712345678.0001", "1712345678.000100", 0},
		{"1712345678.000100", "1712345679.000001", -1},
		{"1712345678", "1712345678.000001", -1},
		{"1212345678901234567", "1212345678901234568", -1},
		{"1312345678901234567", "212345678901234567", 1},
		{"0100", "99", 1},
	}
	for _, tt := range tests {
		if got := CompareTS(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareTS(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNewerThan(t *testing.T) {
	if !NewerThan("101", "100") {
		t.Error("101 should be newer than 100")
	}
	if NewerThan("100", "100") {
		t.Error("100 should not be newer than itself")
	}
	if !NewerThan("100", "") {
		t.Error("anything should be newer than the empty mark")
	}
}

func TestIsThreadReply(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"plain top-level", Message{ID: "100"}, false},
		{"thread root", Message{ID: "100", ThreadID: "100"}, false},
		{"reply", Message{ID: "101", ThreadID: "100"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsThreadReply(tt.msg); got != tt.want {
				t.Errorf("IsThreadReply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMockPlatform_RecentMessagesLimit(t *testing.T) {
	m := NewMockPlatform("BOT1")
	m.SetMessages("C01", []Message{{ID: "3"}, {ID: "2"}, {ID: "1"}})

	msgs, err := m.RecentMessages(context.Background(), "C01", 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "3" {
		t.Errorf("msgs = %+v, want newest two", msgs)
	}
}

func TestMockPlatform_PostAndErrors(t *testing.T) {
	m := NewMockPlatform("BOT1")
	ctx := context.Background()

	id, err := m.PostReply(ctx, "C01", "hi", "100")
	if err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty when NextPostID is nil", id)
	}

	m.NextPostID = func(threadID string) string { return threadID + ".5" }
	id, _ = m.PostReply(ctx, "C01", "again", "100")
	if id != "100.5" {
		t.Errorf("id = %q, want %q", id, "100.5")
	}
	if posts := m.Posts(); len(posts) != 2 || posts[1].Text != "again" {
		t.Errorf("posts = %+v", posts)
	}

	m.PostErr = errors.New("rate limited")
	if _, err := m.PostReply(ctx, "C01", "x", "100"); err == nil {
		t.Error("expected PostErr")
	}

	m.RecentErr["C02"] = errors.New("channel_not_found")
	if _, err := m.RecentMessages(ctx, "C02", 5); err == nil {
		t.Error("expected RecentErr")
	}

	bot, _ := m.BotUserID(ctx)
	if bot != "BOT1" {
		t.Errorf("BotUserID = %q, want BOT1", bot)
	}
}

func TestMockPlatform_RecordsSince(t *testing.T) {
	m := NewMockPlatform("BOT1")
	m.SetReplies("C01", "100", []Message{{ID: "101"}})

	if _, err := m.RepliesSince(context.Background(), "C01", "100", "100.5"); err != nil {
		t.Fatalf("RepliesSince: %v", err)
	}
	if calls := m.SinceCalls(); len(calls) != 1 || calls[0] != "100.5" {
		t.Errorf("SinceCalls = %v, want [100.5]", calls)
	}
}
