// Package text converts between line/column positions and UTF-16 offsets
// and derives single edits from successive document snapshots.
//
// All offsets and lengths in this package are measured in UTF-16 code
// units, which is what editor accessibility APIs report. Lines are
// terminated by '\n'; a '\r' is an ordinary column.
package text

import (
	"unicode/utf8"

	"codeoverlay/internal/errors"
)

// Position is a zero-based line and UTF-16 column.
type Position struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

// Compare orders positions by row then column.
func (p Position) Compare(o Position) int {
	switch {
	case p.Row < o.Row:
		return -1
	case p.Row > o.Row:
		return 1
	case p.Column < o.Column:
		return -1
	case p.Column > o.Column:
		return 1
	}
	return 0
}

// Less reports whether p sorts before o.
func (p Position) Less(o Position) bool { return p.Compare(o) < 0 }

// Range is a half-open span [Start, Start+Length) of UTF-16 offsets.
type Range struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// End returns the exclusive end offset.
func (r Range) End() int { return r.Start + r.Length }

// Empty reports whether the range covers no code units.
func (r Range) Empty() bool { return r.Length == 0 }

// Contains reports whether offset lies inside the half-open range.
func (r Range) Contains(offset int) bool {
	return offset >= r.Start && offset < r.End()
}

// Covers reports whether o lies entirely within r.
func (r Range) Covers(o Range) bool {
	return o.Start >= r.Start && o.End() <= r.End()
}

// Overlaps reports whether the ranges share at least one code unit.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End() && o.Start < r.End()
}

// Touches is Overlaps but also true when the ranges abut or either is empty
// and sits on the other's boundary.
func (r Range) Touches(o Range) bool {
	return r.Start <= o.End() && o.Start <= r.End()
}

// Shift moves the range by delta code units.
func (r Range) Shift(delta int) Range {
	return Range{Start: r.Start + delta, Length: r.Length}
}

// NewRange builds a range from inclusive start and exclusive end offsets.
func NewRange(start, end int) (Range, error) {
	if start < 0 || end < 0 {
		return Range{}, errors.Newf(errors.OutOfBounds, "negative offset in range [%d, %d)", start, end)
	}
	if end < start {
		return Range{}, errors.Newf(errors.InvalidRange, "range end %d precedes start %d", end, start)
	}
	return Range{Start: start, Length: end - start}, nil
}

// unitWidth is the number of UTF-16 code units needed for r.
func unitWidth(r rune) int {
	if r >= 0x10000 && r <= utf8.MaxRune {
		return 2
	}
	return 1
}

// UTF16Len returns the length of s in UTF-16 code units. Invalid UTF-8
// bytes count as one unit each (they decode to U+FFFD).
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += unitWidth(r)
	}
	return n
}

// PositionToOffset converts a line/column position into a UTF-16 offset.
// A column past the end of its line, a row past the last line, or a column
// that falls between the two halves of a surrogate pair is OutOfBounds.
func PositionToOffset(s string, pos Position) (int, error) {
	if pos.Row < 0 || pos.Column < 0 {
		return 0, errors.Newf(errors.OutOfBounds, "negative position %d:%d", pos.Row, pos.Column)
	}
	row, col, off := 0, 0, 0
	for _, r := range s {
		if row == pos.Row {
			if col == pos.Column {
				return off, nil
			}
			if col > pos.Column {
				return 0, errors.Newf(errors.OutOfBounds, "column %d splits a surrogate pair on line %d", pos.Column, pos.Row)
			}
			if r == '\n' {
				return 0, errors.Newf(errors.OutOfBounds, "column %d past end of line %d", pos.Column, pos.Row)
			}
		}
		w := unitWidth(r)
		off += w
		if r == '\n' {
			row++
			col = 0
		} else {
			col += w
		}
	}
	if row == pos.Row {
		if col == pos.Column {
			return off, nil
		}
		if col > pos.Column {
			return 0, errors.Newf(errors.OutOfBounds, "column %d splits a surrogate pair on line %d", pos.Column, pos.Row)
		}
	}
	return 0, errors.Newf(errors.OutOfBounds, "position %d:%d outside document", pos.Row, pos.Column)
}

// OffsetToPosition converts a UTF-16 offset into a line/column position.
func OffsetToPosition(s string, offset int) (Position, error) {
	if offset < 0 {
		return Position{}, errors.Newf(errors.OutOfBounds, "negative offset %d", offset)
	}
	row, col, off := 0, 0, 0
	for _, r := range s {
		if off == offset {
			return Position{Row: row, Column: col}, nil
		}
		if off > offset {
			return Position{}, errors.Newf(errors.OutOfBounds, "offset %d splits a surrogate pair", offset)
		}
		w := unitWidth(r)
		off += w
		if r == '\n' {
			row++
			col = 0
		} else {
			col += w
		}
	}
	if off == offset {
		return Position{Row: row, Column: col}, nil
	}
	if off > offset {
		return Position{}, errors.Newf(errors.OutOfBounds, "offset %d splits a surrogate pair", offset)
	}
	return Position{}, errors.Newf(errors.OutOfBounds, "offset %d past end %d", offset, off)
}

// RangeFromPositions converts a start/end position pair into a Range.
func RangeFromPositions(s string, start, end Position) (Range, error) {
	if end.Less(start) {
		return Range{}, errors.Newf(errors.InvalidRange, "range end %d:%d precedes start %d:%d",
			end.Row, end.Column, start.Row, start.Column)
	}
	so, err := PositionToOffset(s, start)
	if err != nil {
		return Range{}, err
	}
	eo, err := PositionToOffset(s, end)
	if err != nil {
		return Range{}, err
	}
	return NewRange(so, eo)
}

// RangeToPositions converts a Range into its start and end positions.
func RangeToPositions(s string, r Range) (Position, Position, error) {
	if r.Length < 0 {
		return Position{}, Position{}, errors.Newf(errors.InvalidRange, "negative range length %d", r.Length)
	}
	start, err := OffsetToPosition(s, r.Start)
	if err != nil {
		return Position{}, Position{}, err
	}
	end, err := OffsetToPosition(s, r.End())
	if err != nil {
		return Position{}, Position{}, err
	}
	return start, end, nil
}

// ByteOffset maps a UTF-16 offset onto a byte index into s.
func ByteOffset(s string, offset int) (int, error) {
	if offset < 0 {
		return 0, errors.Newf(errors.OutOfBounds, "negative offset %d", offset)
	}
	off := 0
	for i, r := range s {
		if off == offset {
			return i, nil
		}
		if off > offset {
			return 0, errors.Newf(errors.OutOfBounds, "offset %d splits a surrogate pair", offset)
		}
		off += unitWidth(r)
	}
	if off == offset {
		return len(s), nil
	}
	return 0, errors.Newf(errors.OutOfBounds, "offset %d past end %d", offset, off)
}

// UTF16Offset maps a byte index into s onto a UTF-16 offset. A byte index
// inside a multi-byte sequence maps to the offset of that sequence's rune.
func UTF16Offset(s string, byteIndex int) (int, error) {
	if byteIndex < 0 || byteIndex > len(s) {
		return 0, errors.Newf(errors.OutOfBounds, "byte index %d outside [0, %d]", byteIndex, len(s))
	}
	return UTF16Len(s[:byteIndex]), nil
}

// Slice returns the text covered by r.
func Slice(s string, r Range) (string, error) {
	if r.Length < 0 {
		return "", errors.Newf(errors.InvalidRange, "negative range length %d", r.Length)
	}
	start, err := ByteOffset(s, r.Start)
	if err != nil {
		return "", err
	}
	end, err := ByteOffset(s, r.End())
	if err != nil {
		return "", err
	}
	return s[start:end], nil
}
