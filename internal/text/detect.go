package text

import (
	stderrors "errors"

	"codeoverlay/internal/errors"
)

// ErrNoChange is returned by DetectEdit when both snapshots are identical.
var ErrNoChange = stderrors.New("text unchanged")

// DefaultAmbiguityRatio accepts any change that shares a prefix or suffix.
const DefaultAmbiguityRatio = 1.0

// Detector derives a single replacement edit from two snapshots.
type Detector struct {
	// AmbiguityRatio bounds (removed+inserted)/(len(prev)+len(next)).
	// Changes larger than this are reported as AmbiguousEdit so callers
	// fall back to a full reparse. Values <= 0 or >= 1 disable the bound.
	AmbiguityRatio float64
}

// DetectEdit runs the default Detector.
func DetectEdit(prev, next string) (Edit, error) {
	return Detector{AmbiguityRatio: DefaultAmbiguityRatio}.Detect(prev, next)
}

// Detect returns the minimal edit turning prev into next: the longest common
// prefix is kept first, then the longest common suffix of what remains.
func (d Detector) Detect(prev, next string) (Edit, error) {
	if prev == next {
		return Edit{}, ErrNoChange
	}
	a, b := []rune(prev), []rune(next)

	p := 0
	for p < len(a) && p < len(b) && a[p] == b[p] {
		p++
	}
	s := 0
	for s < len(a)-p && s < len(b)-p && a[len(a)-1-s] == b[len(b)-1-s] {
		s++
	}

	if len(a) > 0 && len(b) > 0 && p == 0 && s == 0 {
		return Edit{}, errors.New(errors.AmbiguousEdit, "snapshots share no prefix or suffix")
	}

	removed := a[p : len(a)-s]
	inserted := b[p : len(b)-s]

	if d.AmbiguityRatio > 0 && d.AmbiguityRatio < 1 {
		changed := float64(len(removed) + len(inserted))
		total := float64(len(a) + len(b))
		if changed > d.AmbiguityRatio*total {
			return Edit{}, errors.Newf(errors.AmbiguousEdit, "change covers %.0f of %.0f runes", changed, total)
		}
	}

	return Edit{
		Range: Range{
			Start:  runesUTF16Len(a[:p]),
			Length: runesUTF16Len(removed),
		},
		Inserted: string(inserted),
	}, nil
}

func runesUTF16Len(rs []rune) int {
	n := 0
	for _, r := range rs {
		n += unitWidth(r)
	}
	return n
}
