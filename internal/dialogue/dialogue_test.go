package dialogue

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestDecodeHistory_Empty(t *testing.T) {
	for _, blob := range [][]byte{nil, {}} {
		h, err := DecodeHistory(blob)
		if err != nil {
			t.Fatalf("DecodeHistory(%q): %v", blob, err)
		}
		if len(h) != 0 {
			t.Errorf("len = %d, want 0", len(h))
		}
	}
}

func TestDecodeHistory_Invalid(t *testing.T) {
	if _, err := DecodeHistory([]byte("{not json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestHistory_RoundTripStable(t *testing.T) {
	h := History{
		{Role: RoleUser, Text: "hello"},
		{Role: RoleAssistant, Text: "hi", ToolUses: []ToolUse{{ID: "tu_1", Name: "get_current_state", Input: json.RawMessage(`{}`)}}},
		{Role: RoleUser, ToolResults: []ToolResult{{ToolUseID: "tu_1", Content: "{}"}}},
		{Role: RoleAssistant, Text: "what is the repo?"},
	}

	first, err := EncodeHistory(h)
	if err != nil {
		t.Fatalf("EncodeHistory: %v", err)
	}
	decoded, err := DecodeHistory(first)
	if err != nil {
		t.Fatalf("DecodeHistory: %v", err)
	}
	second, err := EncodeHistory(decoded)
	if err != nil {
		t.Fatalf("EncodeHistory: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("round trip changed history:\n%s\n%s", first, second)
	}
	if len(decoded) != 4 || decoded[1].ToolUses[0].Name != "get_current_state" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestEncodeHistory_Nil(t *testing.T) {
	b, err := EncodeHistory(nil)
	if err != nil {
		t.Fatalf("EncodeHistory: %v", err)
	}
	if string(b) != "[]" {
		t.Errorf("EncodeHistory(nil) = %s, want []", b)
	}
}
