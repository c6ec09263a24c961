package onboarding

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// RunTool executes the named tool against session id and returns the text
// handed back to the agent. A non-nil error means the call itself was bad
// (unknown tool, malformed input, unknown field); the agent is shown the
// message and may retry.
func RunTool(db *gorm.DB, id uint, phase Phase, name string, input []byte) (string, error) {
	if !allowed(phase, name) {
		return "", fmt.Errorf("tool %q is not available in the %s phase", name, phase)
	}

	switch name {
	case ToolSaveAnswer:
		var args struct {
			FieldName string          `json:"field_name"`
			Value     json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid input for %s: %w", name, err)
		}
		if err := UpdateField(db, id, args.FieldName, rawValue(args.Value)); err != nil {
			if errors.Is(err, ErrUnknownField) || errors.Is(err, ErrSessionNotFound) {
				return "", err
			}
			return "", fmt.Errorf("saving %s failed: %w", args.FieldName, err)
		}
		return fmt.Sprintf("Saved %s successfully.", args.FieldName), nil

	case ToolGetCurrentState:
		snap, err := State(db, id)
		if err != nil {
			return "", err
		}
		out, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode state: %w", err)
		}
		return string(out), nil

	case ToolListUnanswered:
		fields, err := UnansweredFields(db, id)
		if err != nil {
			return "", err
		}
		if fields == nil {
			fields = []string{}
		}
		out, _ := json.Marshal(fields)
		return string(out), nil

	case ToolBeginCustomerInterview:
		if err := UpdatePhase(db, id, PhaseCustomer); err != nil {
			return "", err
		}
		return "Session moved to the customer interview.", nil
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

func allowed(phase Phase, name string) bool {
	for _, t := range phase.Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// rawValue decodes a tool argument. Models sometimes send list fields as a
// real JSON array instead of a string; both are accepted.
func rawValue(raw json.RawMessage) any {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}
