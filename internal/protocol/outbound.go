package protocol

import (
	"codeoverlay/internal/annotations"
	"codeoverlay/internal/errors"
	"codeoverlay/internal/suggestions"
	"codeoverlay/internal/text"
)

// Outbound message types.
const (
	TypeAnnotationDelta   MessageType = "annotation_delta"
	TypeSuggestionDelta   MessageType = "suggestion_delta"
	TypeSuggestionAck     MessageType = "suggestion_ack"
	TypeOverlayVisibility MessageType = "overlay_visibility"
	TypeError             MessageType = "error"
)

// Ack outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
)

// Outbound is a message for the overlay.
type Outbound interface {
	MessageType() MessageType
	Window() string
}

// AnnotationDelta reports annotation additions, updates and removals.
type AnnotationDelta struct {
	WindowID string `json:"windowId"`
	annotations.Delta
}

// SuggestionDelta reports suggestion additions and removals.
type SuggestionDelta struct {
	WindowID string `json:"windowId"`
	suggestions.Delta
}

// SuggestionAck answers a suggestion command. Edit is set when an apply
// succeeded; Code is set when the command was rejected.
type SuggestionAck struct {
	WindowID     string           `json:"windowId"`
	SuggestionID string           `json:"suggestionId"`
	Action       Action           `json:"action"`
	Outcome      string           `json:"outcome"`
	Edit         *text.Edit       `json:"edit,omitempty"`
	Code         errors.ErrorCode `json:"code,omitempty"`
	Message      string           `json:"message,omitempty"`
}

type OverlayVisibility struct {
	WindowID string `json:"windowId"`
	Visible  bool   `json:"visible"`
}

// Error reports an integration failure, such as a message that could not
// be decoded or routed.
type Error struct {
	WindowID string           `json:"windowId,omitempty"`
	Code     errors.ErrorCode `json:"code"`
	Message  string           `json:"message"`
}

func (AnnotationDelta) MessageType() MessageType   { return TypeAnnotationDelta }
func (SuggestionDelta) MessageType() MessageType   { return TypeSuggestionDelta }
func (SuggestionAck) MessageType() MessageType     { return TypeSuggestionAck }
func (OverlayVisibility) MessageType() MessageType { return TypeOverlayVisibility }
func (Error) MessageType() MessageType             { return TypeError }

func (m AnnotationDelta) Window() string   { return m.WindowID }
func (m SuggestionDelta) Window() string   { return m.WindowID }
func (m SuggestionAck) Window() string     { return m.WindowID }
func (m OverlayVisibility) Window() string { return m.WindowID }
func (m Error) Window() string             { return m.WindowID }

// NewAck builds the acknowledgement for a command that returned err.
func NewAck(cmd SuggestionCommand, edit *text.Edit, err error) SuggestionAck {
	ack := SuggestionAck{
		WindowID:     cmd.WindowID,
		SuggestionID: cmd.SuggestionID,
		Action:       cmd.Action,
		Outcome:      OutcomeOK,
		Edit:         edit,
	}
	if err != nil {
		ack.Outcome = OutcomeRejected
		ack.Edit = nil
		ack.Code = errors.CodeOf(err)
		ack.Message = err.Error()
	}
	return ack
}

// NewError builds an error message for window from err.
func NewError(window string, err error) Error {
	return Error{WindowID: window, Code: errors.CodeOf(err), Message: err.Error()}
}
