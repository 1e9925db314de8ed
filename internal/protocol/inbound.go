// Package protocol defines the messages exchanged with the editor observer
// and the overlay. Both directions are explicit tagged unions discriminated
// by a "type" field.
package protocol

import (
	"encoding/json"

	"codeoverlay/internal/errors"
	"codeoverlay/internal/text"
)

// MessageType is the "type" discriminant.
type MessageType string

// Inbound message types.
const (
	TypeWindowCreated     MessageType = "editor_window_created"
	TypeWindowDestroyed   MessageType = "editor_window_destroyed"
	TypeTextChanged       MessageType = "text_content_changed"
	TypeSelectionChanged  MessageType = "selection_changed"
	TypeSuggestionSelect  MessageType = "suggestion_select"
	TypeSuggestionDismiss MessageType = "suggestion_dismiss"
	TypeSuggestionApply   MessageType = "suggestion_apply"
	TypeFeaturesToggled   MessageType = "features_toggled"
	TypeEditorScrolled    MessageType = "editor_scrolled"
)

// Inbound is an event from the editor observer.
type Inbound interface {
	MessageType() MessageType
	// Window is the target window id, empty for workspace-wide events.
	Window() string
}

// WindowCreated starts tracking a window. Text is the initial content.
type WindowCreated struct {
	WindowID string `json:"windowId"`
	PID      int    `json:"pid"`
	FilePath string `json:"filePath"`
	Text     string `json:"text,omitempty"`
}

type WindowDestroyed struct {
	WindowID string `json:"windowId"`
}

// TextChanged carries the full new text and, when the observer knows it,
// the exact edit that produced it.
type TextChanged struct {
	WindowID string     `json:"windowId"`
	Text     string     `json:"text"`
	Edit     *text.Edit `json:"edit,omitempty"`
}

type SelectionChanged struct {
	WindowID string `json:"windowId"`
	Offset   int    `json:"offset"`
	Length   int    `json:"length"`
}

// Action names a suggestion command.
type Action string

const (
	ActionSelect  Action = "select"
	ActionDismiss Action = "dismiss"
	ActionApply   Action = "apply"
)

// SuggestionCommand is a select, dismiss or apply request.
type SuggestionCommand struct {
	Action       Action `json:"-"`
	WindowID     string `json:"windowId"`
	SuggestionID string `json:"suggestionId"`
}

type FeaturesToggled struct {
	Enabled bool `json:"enabled"`
}

type EditorScrolled struct {
	WindowID string `json:"windowId"`
}

func (WindowCreated) MessageType() MessageType    { return TypeWindowCreated }
func (WindowDestroyed) MessageType() MessageType  { return TypeWindowDestroyed }
func (TextChanged) MessageType() MessageType      { return TypeTextChanged }
func (SelectionChanged) MessageType() MessageType { return TypeSelectionChanged }
func (FeaturesToggled) MessageType() MessageType  { return TypeFeaturesToggled }
func (EditorScrolled) MessageType() MessageType   { return TypeEditorScrolled }

func (c SuggestionCommand) MessageType() MessageType {
	switch c.Action {
	case ActionDismiss:
		return TypeSuggestionDismiss
	case ActionApply:
		return TypeSuggestionApply
	default:
		return TypeSuggestionSelect
	}
}

func (m WindowCreated) Window() string     { return m.WindowID }
func (m WindowDestroyed) Window() string   { return m.WindowID }
func (m TextChanged) Window() string       { return m.WindowID }
func (m SelectionChanged) Window() string  { return m.WindowID }
func (m SuggestionCommand) Window() string { return m.WindowID }
func (FeaturesToggled) Window() string     { return "" }
func (m EditorScrolled) Window() string    { return m.WindowID }

// Decode parses one inbound message. A payload that is not a JSON object
// or lacks a required field fails with INVALID_MESSAGE; an unrecognized
// discriminant fails with UNKNOWN_MESSAGE.
func Decode(data []byte) (Inbound, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Wrap(errors.InvalidMessage, "malformed message", err)
	}

	var msg Inbound
	var err error
	switch envelope.Type {
	case TypeWindowCreated:
		msg, err = decodeAs[WindowCreated](data)
	case TypeWindowDestroyed:
		msg, err = decodeAs[WindowDestroyed](data)
	case TypeTextChanged:
		msg, err = decodeAs[TextChanged](data)
	case TypeSelectionChanged:
		msg, err = decodeAs[SelectionChanged](data)
	case TypeSuggestionSelect, TypeSuggestionDismiss, TypeSuggestionApply:
		var c SuggestionCommand
		c, err = decodeAs[SuggestionCommand](data)
		c.Action = actionOf(envelope.Type)
		if err == nil && c.SuggestionID == "" {
			err = errors.New(errors.InvalidMessage, "suggestionId is required")
		}
		msg = c
	case TypeFeaturesToggled:
		msg, err = decodeAs[FeaturesToggled](data)
	case TypeEditorScrolled:
		msg, err = decodeAs[EditorScrolled](data)
	case "":
		return nil, errors.New(errors.InvalidMessage, "message has no type")
	default:
		return nil, errors.Newf(errors.UnknownMessage, "unknown message type %q", envelope.Type)
	}
	if err != nil {
		return nil, err
	}
	if msg.MessageType() != TypeFeaturesToggled && msg.Window() == "" {
		return nil, errors.Newf(errors.InvalidMessage, "%s: windowId is required", envelope.Type)
	}
	if tc, ok := msg.(TextChanged); ok && tc.Edit != nil && (tc.Edit.Range.Start < 0 || tc.Edit.Range.Length < 0) {
		return nil, errors.Newf(errors.InvalidRange, "edit range %v is negative", tc.Edit.Range)
	}
	return msg, nil
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Wrap(errors.InvalidMessage, "malformed message body", err)
	}
	return v, nil
}

func actionOf(t MessageType) Action {
	switch t {
	case TypeSuggestionDismiss:
		return ActionDismiss
	case TypeSuggestionApply:
		return ActionApply
	default:
		return ActionSelect
	}
}

// Encode renders any message with its "type" field, for replay files and
// the websocket transport.
func Encode(m interface{ MessageType() MessageType }) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(m.MessageType())
	return json.Marshal(fields)
}
