package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionType is the closed set of actions the engine knows how to gate and dispatch.
type ActionType string

const (
	ActionEmailReply        ActionType = "email_reply"
	ActionEmailSend         ActionType = "email_send"
	ActionWhatsAppReply     ActionType = "whatsapp_reply"
	ActionFileOperation     ActionType = "file_operation"
	ActionFileDelete        ActionType = "file_delete"
	ActionCalendarEvent     ActionType = "calendar_event"
	ActionPayment           ActionType = "payment"
	ActionSocialPost        ActionType = "social_post"
	ActionNewContactMessage ActionType = "new_contact_message"
	ActionLarkMessage       ActionType = "lark_message"
	ActionCustom            ActionType = "custom"
)

var validActionTypes = map[ActionType]bool{
	ActionEmailReply:        true,
	ActionEmailSend:         true,
	ActionWhatsAppReply:     true,
	ActionFileOperation:     true,
	ActionFileDelete:        true,
	ActionCalendarEvent:     true,
	ActionPayment:           true,
	ActionSocialPost:        true,
	ActionNewContactMessage: true,
	ActionLarkMessage:       true,
	ActionCustom:            true,
}

// IsValid reports whether t belongs to the known action set.
func (t ActionType) IsValid() bool {
	return validActionTypes[t]
}

func (t ActionType) String() string {
	return string(t)
}

// ProposedAction is the oracle's recommendation for a task. It is never
// edited once created; a new evaluation produces a new action.
type ProposedAction struct {
	ID               string         `json:"id"`
	Type             ActionType     `json:"action_type"`
	Title            string         `json:"title,omitempty"`
	Confidence       float64        `json:"confidence"`
	Reasoning        string         `json:"reasoning"`
	Details          map[string]any `json:"details"`
	PolicyReferences []string       `json:"policy_references,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	CreatedAt        time.Time      `json:"created_at"`
}

// DetailString returns a string detail, or "" when absent or not a string.
func (a *ProposedAction) DetailString(key string) string {
	if v, ok := a.Details[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// DetailStrings returns a detail that may be a single string or a list of strings.
func (a *ProposedAction) DetailStrings(key string) []string {
	switch v := a.Details[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// oracleProposal mirrors the oracle's JSON answer. Pointer fields let us tell
// a missing key from a zero value.
type oracleProposal struct {
	ActionType         *string         `json:"action_type"`
	Title              string          `json:"title"`
	Confidence         *float64        `json:"confidence"`
	Reasoning          *string         `json:"reasoning"`
	Details            json.RawMessage `json:"details"`
	ActionData         json.RawMessage `json:"action_data"`
	PolicyReferences   []string        `json:"policy_references"`
	HandbookReferences []string        `json:"handbook_references"`
	RequiresApproval   *bool           `json:"requires_approval"`
}

// ParseProposedAction decodes an oracle JSON object into a ProposedAction.
// Every required field must be present; the caller wraps the returned error
// as an oracle parse failure.
func ParseProposedAction(raw []byte, now time.Time) (*ProposedAction, error) {
	var p oracleProposal
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}

	var missing []string
	if p.ActionType == nil {
		missing = append(missing, "action_type")
	}
	if p.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if p.RequiresApproval == nil {
		missing = append(missing, "requires_approval")
	}
	if p.Reasoning == nil {
		missing = append(missing, "reasoning")
	}
	details := p.Details
	if len(details) == 0 {
		details = p.ActionData
	}
	if len(details) == 0 {
		missing = append(missing, "details")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	actionType := ActionType(strings.TrimSpace(*p.ActionType))
	if !actionType.IsValid() {
		return nil, fmt.Errorf("unknown action type %q", *p.ActionType)
	}
	if *p.Confidence < 0 || *p.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", *p.Confidence)
	}

	var detailMap map[string]any
	if err := json.Unmarshal(details, &detailMap); err != nil || detailMap == nil {
		return nil, fmt.Errorf("details must be a JSON object")
	}

	refs := p.PolicyReferences
	if len(refs) == 0 {
		refs = p.HandbookReferences
	}

	title := p.Title
	if title == "" {
		title = string(actionType)
	}

	return &ProposedAction{
		ID:               "act_" + uuid.NewString(),
		Type:             actionType,
		Title:            title,
		Confidence:       *p.Confidence,
		Reasoning:        *p.Reasoning,
		Details:          detailMap,
		PolicyReferences: refs,
		RequiresApproval: *p.RequiresApproval,
		CreatedAt:        now.UTC(),
	}, nil
}

// ExecutionResult is the normalised outcome of running an action.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}
