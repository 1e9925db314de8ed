package suggestions

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"codeoverlay/internal/syntax"
	"codeoverlay/internal/text"
)

// Options tunes candidate computation.
type Options struct {
	// MinStatements is the shortest run worth extracting.
	MinStatements int
	// MaxBodyStatements is the function body length above which its leading
	// statements are proposed for extraction.
	MaxBodyStatements int
	NewID             func() string
}

// DefaultOptions returns the default thresholds.
func DefaultOptions() Options {
	return Options{MinStatements: 3, MaxBodyStatements: 8, NewID: uuid.NewString}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinStatements < 1 {
		o.MinStatements = d.MinStatements
	}
	if o.MaxBodyStatements < o.MinStatements {
		o.MaxBodyStatements = max(d.MaxBodyStatements, o.MinStatements)
	}
	if o.NewID == nil {
		o.NewID = d.NewID
	}
	return o
}

// Compute returns extraction candidates for tree in document order, each
// with a fresh id in the proposed state. It does not touch any pipeline
// state.
//
// Three shapes are proposed, each only inside a function:
//   - a nested block (an if, loop or switch body) with enough statements,
//   - the body of a closure nested in a function,
//   - the leading statements of an overlong function body.
func Compute(tree *syntax.Tree, opts Options) []Suggestion {
	opts = opts.withDefaults()
	var out []Suggestion
	for _, idx := range tree.OfKind(syntax.KindStatements) {
		n := tree.Node(idx)
		if n.HasError || n.Parent < 0 {
			continue
		}
		fn := tree.Ancestor(idx, syntax.IsFunction)
		if fn < 0 {
			continue
		}
		stmts := tree.NamedChildren(idx)
		if len(stmts) < opts.MinStatements {
			continue
		}

		kind := KindExtractMethod
		switch tree.Node(n.Parent).Kind {
		case syntax.KindLambda:
			if tree.Ancestor(n.Parent, syntax.IsFunction) < 0 {
				continue
			}
			kind = KindExtractClosure
		case syntax.KindFunctionBody:
			if len(stmts) <= opts.MaxBodyStatements {
				continue
			}
			stmts = stmts[:len(stmts)-1]
		}

		first, last := tree.Node(stmts[0]), tree.Node(stmts[len(stmts)-1])
		target := text.Range{Start: first.Range.Start, Length: last.Range.End() - first.Range.Start}
		body, err := tree.Text(target)
		if err != nil {
			continue
		}
		name := extractedName(tree, idx)
		out = append(out, Suggestion{
			ID:     opts.NewID(),
			Kind:   kind,
			Target: target,
			Operation: Operation{
				Title:      fmt.Sprintf("Extract %d statements into %s()", len(stmts), name),
				NewName:    name,
				Statements: len(stmts),
			},
			State:       StateProposed,
			ContentHash: hashContent(body),
		})
	}
	return out
}

// extractedName derives the new function's name from the enclosing
// declaration, e.g. "load" becomes "extractedLoad".
func extractedName(tree *syntax.Tree, idx int) string {
	decl := tree.Ancestor(idx, syntax.IsDeclaration)
	if decl < 0 {
		return "extractedClosure"
	}
	name := tree.DeclarationName(decl)
	if name == "" || strings.HasPrefix(name, "<") {
		return "extracted"
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return "extracted" + string(r)
}
