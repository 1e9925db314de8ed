package text

import (
	"fmt"

	"codeoverlay/internal/errors"
)

// Edit replaces Range in the old text with Inserted.
type Edit struct {
	Range    Range  `json:"range"`
	Inserted string `json:"inserted"`
}

// InsertedLen is the UTF-16 length of the inserted text.
func (e Edit) InsertedLen() int { return UTF16Len(e.Inserted) }

// Delta is how far offsets after the edit move.
func (e Edit) Delta() int { return e.InsertedLen() - e.Range.Length }

// NewRange is the span the inserted text occupies after the edit.
func (e Edit) NewRange() Range {
	return Range{Start: e.Range.Start, Length: e.InsertedLen()}
}

// IsNoop reports whether the edit changes nothing.
func (e Edit) IsNoop() bool { return e.Range.Length == 0 && e.Inserted == "" }

func (e Edit) String() string {
	return fmt.Sprintf("[%d,%d)->%q", e.Range.Start, e.Range.End(), e.Inserted)
}

// Apply returns s with e applied.
func Apply(s string, e Edit) (string, error) {
	if e.Range.Length < 0 {
		return "", errors.Newf(errors.InvalidRange, "negative edit length %d", e.Range.Length)
	}
	start, err := ByteOffset(s, e.Range.Start)
	if err != nil {
		return "", err
	}
	end, err := ByteOffset(s, e.Range.End())
	if err != nil {
		return "", err
	}
	return s[:start] + e.Inserted + s[end:], nil
}
