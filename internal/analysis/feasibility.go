package analysis

import (
	"context"
	"strings"

	"codeoverlay/internal/errors"
	"codeoverlay/internal/syntax"
)

// loopKinds are the constructs a break or continue may target.
var loopKinds = map[string]bool{
	"for_statement":          true,
	"while_statement":        true,
	"repeat_while_statement": true,
	"switch_statement":       true,
}

// TreeFeasibility rejects extractions whose code cannot be moved into a new
// function unchanged: code that does not parse, or control transfer that
// escapes the extracted region.
type TreeFeasibility struct{}

// candidateWrapper encloses candidate code in a function so statements
// parse as statements. At the top level of a Swift file a bare break,
// continue or throw reads as an identifier.
const (
	candidateWrapperOpen  = "func extractedCandidate() {\n"
	candidateWrapperClose = "\n}\n"
)

// CheckExtraction implements FeasibilityChecker.
func (TreeFeasibility) CheckExtraction(ctx context.Context, c Candidate) (Feasibility, error) {
	if err := ctx.Err(); err != nil {
		return Feasibility{}, err
	}
	tree, err := syntax.Parse(ctx, candidateWrapperOpen+c.Code+candidateWrapperClose)
	if err != nil {
		if ctx.Err() != nil {
			return Feasibility{}, ctx.Err()
		}
		return Feasibility{}, errors.Wrap(errors.QueryFailed, "parsing candidate", err)
	}
	if root := tree.Root(); root >= 0 && tree.Node(root).HasError {
		return Feasibility{Reason: "code does not parse on its own"}, nil
	}

	wrapper := wrapperIndex(tree)
	for _, idx := range tree.OfKind(syntax.KindControlTransfer) {
		if reason := escapes(tree, wrapper, idx); reason != "" {
			return Feasibility{Reason: reason}, nil
		}
	}
	return Feasibility{Feasible: true}, nil
}

// wrapperIndex returns the synthetic function enclosing the candidate, or -1.
func wrapperIndex(tree *syntax.Tree) int {
	for _, idx := range tree.OfKind(syntax.KindFunction) {
		if tree.Node(idx).Range.Start == 0 {
			return idx
		}
	}
	return -1
}

// escapes explains why the control transfer at idx leaves the candidate, or
// returns "" when it stays inside. Functions and closures nested in the
// candidate keep their own control flow.
func escapes(tree *syntax.Tree, wrapper, idx int) string {
	if fn := tree.Ancestor(idx, syntax.IsFunction); fn >= 0 && fn != wrapper {
		return ""
	}
	stmt := strings.TrimSpace(tree.NodeText(idx))
	switch {
	case strings.HasPrefix(stmt, "break"), strings.HasPrefix(stmt, "continue"):
		if tree.Ancestor(idx, func(k string) bool { return loopKinds[k] }) >= 0 {
			return ""
		}
		return "contains a break or continue targeting an enclosing loop"
	case strings.HasPrefix(stmt, "throw"):
		return "contains a throw"
	default:
		return "contains a return from the enclosing function"
	}
}
