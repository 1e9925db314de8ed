// Package analysis defines the analysis collaborators the overlay talks to
// and local implementations of them.
//
// An Analyzer turns a Snippet (the source of one anchor node plus context)
// into a Payload with one entry per requested Feature. A FeasibilityChecker
// answers whether a proposed extraction can be performed safely.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"codeoverlay/internal/complexity"
	"codeoverlay/internal/syntax"
	"codeoverlay/internal/text"
)

// Feature names one kind of analysis output.
type Feature string

const (
	FeatureDocumentation Feature = "documentation"
	FeatureComplexity    Feature = "complexity"
)

// AllFeatures lists every feature in display order.
var AllFeatures = []Feature{FeatureDocumentation, FeatureComplexity}

// Snippet is the unit of work sent to an Analyzer.
type Snippet struct {
	NodeKind string    `json:"nodeKind"`
	Name     string    `json:"name"`
	Code     string    `json:"code"`
	Comments []string  `json:"comments,omitempty"`
	Features []Feature `json:"features"`
}

// ContentKey identifies the snippet's content independent of the features
// requested, so cached results can be shared between requests.
func (s Snippet) ContentKey() string {
	h := sha256.New()
	h.Write([]byte(s.NodeKind))
	h.Write([]byte{0})
	h.Write([]byte(s.Name))
	h.Write([]byte{0})
	h.Write([]byte(s.Code))
	for _, c := range s.Comments {
		h.Write([]byte{0})
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Wants reports whether f was requested.
func (s Snippet) Wants(f Feature) bool {
	for _, x := range s.Features {
		if x == f {
			return true
		}
	}
	return false
}

// Documentation is the documentation feature's output.
type Documentation struct {
	Signature string `json:"signature" yaml:"signature"`
	Summary   string `json:"summary" yaml:"summary"`
	// Source is "comment" when taken from doc comments, else "generated".
	Source string `json:"source" yaml:"source"`
}

// Payload holds one result per feature; features not produced are nil.
type Payload struct {
	Documentation *Documentation               `json:"documentation,omitempty" yaml:"documentation,omitempty"`
	Complexity    *complexity.ComplexityResult `json:"complexity,omitempty" yaml:"complexity,omitempty"`
}

// Get returns the value for f, or nil.
func (p Payload) Get(f Feature) any {
	switch f {
	case FeatureDocumentation:
		if p.Documentation != nil {
			return p.Documentation
		}
	case FeatureComplexity:
		if p.Complexity != nil {
			return p.Complexity
		}
	}
	return nil
}

// Merge copies the non-nil entries of o into p.
func (p *Payload) Merge(o Payload) {
	if o.Documentation != nil {
		p.Documentation = o.Documentation
	}
	if o.Complexity != nil {
		p.Complexity = o.Complexity
	}
}

// Analyzer computes feature payloads for a snippet.
type Analyzer interface {
	Analyze(ctx context.Context, s Snippet) (Payload, error)
}

// Candidate is an extraction the suggestion pipeline wants to propose.
type Candidate struct {
	Kind   string     `json:"kind"`
	Target text.Range `json:"target"`
	Code   string     `json:"code"`
}

// Feasibility is a checker's verdict.
type Feasibility struct {
	Feasible bool   `json:"feasible"`
	Reason   string `json:"reason,omitempty"`
}

// FeasibilityChecker decides whether a candidate extraction is safe.
// Implementations must honor ctx cancellation.
type FeasibilityChecker interface {
	CheckExtraction(ctx context.Context, c Candidate) (Feasibility, error)
}

// SnippetFor builds the snippet for the anchor node at idx.
func SnippetFor(tree *syntax.Tree, idx int, features []Feature) Snippet {
	n := tree.Node(idx)
	return Snippet{
		NodeKind: n.Kind,
		Name:     tree.DeclarationName(idx),
		Code:     tree.NodeText(idx),
		Comments: tree.PrecedingComments(idx),
		Features: features,
	}
}

// signature returns the declaration head: everything before the body brace,
// collapsed to one line.
func signature(code string) string {
	head := code
	if i := strings.IndexByte(code, '{'); i >= 0 {
		head = code[:i]
	}
	return strings.Join(strings.Fields(head), " ")
}

// commentText strips comment markers and joins the lines.
func commentText(comments []string) string {
	var lines []string
	for _, c := range comments {
		c = strings.TrimSpace(c)
		if strings.HasPrefix(c, "/*") {
			c = strings.TrimSuffix(strings.TrimPrefix(c, "/*"), "*/")
			c = strings.TrimPrefix(c, "*")
			for _, l := range strings.Split(c, "\n") {
				l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "*"))
				if l != "" {
					lines = append(lines, l)
				}
			}
			continue
		}
		c = strings.TrimLeft(c, "/")
		if c = strings.TrimSpace(c); c != "" {
			lines = append(lines, c)
		}
	}
	return strings.Join(lines, " ")
}
