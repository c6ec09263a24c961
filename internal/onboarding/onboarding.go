// Package onboarding stores the structured answers an onboarding dialogue
// collects and defines the per-phase instructions and tools the dialogue
// agent runs with.
package onboarding

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/checksumhq/danny/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrSessionNotFound is returned when a session ID has no row.
	ErrSessionNotFound = errors.New("onboarding: session not found")
	// ErrUnknownField is returned when a field name is not in Fields.
	ErrUnknownField = errors.New("onboarding: unknown field")
)

// Fields lists the onboarding answers in the order they are asked.
var Fields = []string{
	"customer_name",
	"repository",
	"api_endpoints",
	"auth_method",
	"auth_details",
	"test_output_folder",
	"test_output_format",
	"test_descriptions",
	"additional_context",
}

// listFields hold ordered lists rather than scalars.
var listFields = map[string]bool{
	"api_endpoints":     true,
	"test_descriptions": true,
}

// IsField reports whether name is a known onboarding field.
func IsField(name string) bool {
	return slices.Contains(Fields, name)
}

// IsListField reports whether name holds an ordered list.
func IsListField(name string) bool {
	return listFields[name]
}

// Snapshot is the JSON view of a session handed to the agent and the API.
// Every field is present; unanswered ones are null.
type Snapshot struct {
	ID      uint           `json:"id"`
	Phase   Phase          `json:"phase"`
	Answers map[string]any `json:"answers"`
}

// CreateSession inserts an empty session in the given phase. Pass the
// transaction that also creates the owning thread.
func CreateSession(tx *gorm.DB, phase Phase) (*models.ConversationSession, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("onboarding: create session: unknown phase %q", phase)
	}
	sess := models.ConversationSession{
		Phase:   string(phase),
		Answers: datatypes.JSONMap{},
	}
	if err := tx.Create(&sess).Error; err != nil {
		return nil, fmt.Errorf("onboarding: create session: %w", err)
	}
	return &sess, nil
}

// GetSession loads a session by ID.
func GetSession(db *gorm.DB, id uint) (*models.ConversationSession, error) {
	var sess models.ConversationSession
	err := db.First(&sess, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("onboarding: get session %d: %w", id, err)
	}
	if sess.Answers == nil {
		sess.Answers = datatypes.JSONMap{}
	}
	return &sess, nil
}

// UpdateField overwrites one answer. Writing the same value twice leaves the
// session unchanged, so replayed agent turns converge. For list fields a
// string holding a JSON array is decoded; any other string is kept as is.
func UpdateField(db *gorm.DB, id uint, field string, value any) error {
	if !IsField(field) {
		return fmt.Errorf("%w: %q (must be one of %s)", ErrUnknownField, field, strings.Join(Fields, ", "))
	}
	if s, ok := value.(string); ok && IsListField(field) {
		var list []any
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			value = list
		}
	}

	return db.Transaction(func(tx *gorm.DB) error {
		sess, err := GetSession(tx, id)
		if err != nil {
			return err
		}
		sess.Answers[field] = value
		if err := tx.Model(sess).Update("answers", sess.Answers).Error; err != nil {
			return fmt.Errorf("onboarding: update %s on session %d: %w", field, id, err)
		}
		return nil
	})
}

// UpdatePhase moves a session to phase.
func UpdatePhase(db *gorm.DB, id uint, phase Phase) error {
	if !phase.Valid() {
		return fmt.Errorf("onboarding: update phase: unknown phase %q", phase)
	}
	result := db.Model(&models.ConversationSession{}).Where("id = ?", id).
		Update("phase", string(phase))
	if result.Error != nil {
		return fmt.Errorf("onboarding: update phase %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	return nil
}

// UnansweredFields returns the fields with no answer yet, in Fields order.
func UnansweredFields(db *gorm.DB, id uint) ([]string, error) {
	sess, err := GetSession(db, id)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range Fields {
		if v, ok := sess.Answers[f]; !ok || v == nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// State returns a snapshot of a session.
func State(db *gorm.DB, id uint) (*Snapshot, error) {
	sess, err := GetSession(db, id)
	if err != nil {
		return nil, err
	}
	answers := make(map[string]any, len(Fields))
	for _, f := range Fields {
		answers[f] = sess.Answers[f]
	}
	return &Snapshot{ID: sess.ID, Phase: Phase(sess.Phase), Answers: answers}, nil
}
