package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"codeoverlay/internal/annotations"
	"codeoverlay/internal/errors"
	"codeoverlay/internal/text"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Inbound
	}{
		{
			name:  "window created",
			input: `{"type":"editor_window_created","windowId":"w1","pid":42,"filePath":"/a.swift","text":"func a() {}"}`,
			want:  WindowCreated{WindowID: "w1", PID: 42, FilePath: "/a.swift", Text: "func a() {}"},
		},
		{
			name:  "text changed with edit",
			input: `{"type":"text_content_changed","windowId":"w1","text":"ab","edit":{"range":{"start":1,"length":0},"inserted":"b"}}`,
			want:  TextChanged{WindowID: "w1", Text: "ab", Edit: &text.Edit{Range: text.Range{Start: 1}, Inserted: "b"}},
		},
		{
			name:  "dismiss",
			input: `{"type":"suggestion_dismiss","windowId":"w1","suggestionId":"s1"}`,
			want:  SuggestionCommand{Action: ActionDismiss, WindowID: "w1", SuggestionID: "s1"},
		},
		{
			name:  "features toggled needs no window",
			input: `{"type":"features_toggled","enabled":false}`,
			want:  FeaturesToggled{Enabled: false},
		},
		{
			name:  "scroll",
			input: `{"type":"editor_scrolled","windowId":"w2"}`,
			want:  EditorScrolled{WindowID: "w2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  errors.ErrorCode
	}{
		{"not json", `{"type":`, errors.InvalidMessage},
		{"no type", `{"windowId":"w1"}`, errors.InvalidMessage},
		{"unknown type", `{"type":"window_moved","windowId":"w1"}`, errors.UnknownMessage},
		{"missing window", `{"type":"editor_window_destroyed"}`, errors.InvalidMessage},
		{"missing suggestion id", `{"type":"suggestion_apply","windowId":"w1"}`, errors.InvalidMessage},
		{"wrong field type", `{"type":"selection_changed","windowId":"w1","offset":"x"}`, errors.InvalidMessage},
		{"negative edit", `{"type":"text_content_changed","windowId":"w1","text":"","edit":{"range":{"start":-1,"length":0}}}`, errors.InvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if !errors.HasCode(err, tt.want) {
				t.Errorf("Decode() error = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	msgs := []Inbound{
		SuggestionCommand{Action: ActionApply, WindowID: "w", SuggestionID: "s"},
		SelectionChanged{WindowID: "w", Offset: 3, Length: 4},
	}
	for _, m := range msgs {
		data, err := Encode(m)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", data, err)
		}
		if got != m {
			t.Errorf("round trip of %s = %#v", data, got)
		}
	}
}

func TestEncodeOutbound(t *testing.T) {
	var d annotations.Delta
	d.Removals = []string{"a1"}
	data, err := Encode(AnnotationDelta{WindowID: "w", Delta: d})
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["type"] != "annotation_delta" || fields["windowId"] != "w" {
		t.Errorf("encoded = %s", data)
	}
	if _, ok := fields["removals"]; !ok {
		t.Errorf("delta fields not flattened: %s", data)
	}
}

func TestNewAck(t *testing.T) {
	cmd := SuggestionCommand{Action: ActionApply, WindowID: "w", SuggestionID: "s"}
	edit := &text.Edit{Inserted: "x"}

	ok := NewAck(cmd, edit, nil)
	if ok.Outcome != OutcomeOK || ok.Edit != edit || ok.Code != "" {
		t.Errorf("ok ack = %+v", ok)
	}

	rejected := NewAck(cmd, edit, errors.New(errors.StaleSuggestion, "changed"))
	if rejected.Outcome != OutcomeRejected || rejected.Edit != nil || rejected.Code != errors.StaleSuggestion {
		t.Errorf("rejected ack = %+v", rejected)
	}
	if !strings.Contains(rejected.Message, "changed") {
		t.Errorf("message = %q", rejected.Message)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	_ = r.Send(OverlayVisibility{WindowID: "w", Visible: true})
	_ = r.Send(NewError("w", fmt.Errorf("boom")))
	if got := r.Drain(); len(got) != 2 || got[1].(Error).Code != errors.InternalError {
		t.Fatalf("Drain() = %+v", got)
	}
	if len(r.Messages()) != 0 {
		t.Error("Drain did not clear")
	}
}
