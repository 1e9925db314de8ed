package complexity

import (
	"codeoverlay/internal/syntax"
)

// decisionKinds are Swift constructs that add a branch.
var decisionKinds = map[string]bool{
	"if_statement":              true,
	"guard_statement":           true,
	"for_statement":             true,
	"while_statement":           true,
	"repeat_while_statement":    true,
	"switch_entry":              true,
	"catch_block":               true,
	"ternary_expression":        true,
	"conjunction_expression":    true,
	"disjunction_expression":    true,
	"nil_coalescing_expression": true,
}

// nestingKinds increase the nesting penalty for constructs inside them.
var nestingKinds = map[string]bool{
	"if_statement":           true,
	"guard_statement":        true,
	"for_statement":          true,
	"while_statement":        true,
	"repeat_while_statement": true,
	"switch_statement":       true,
	"do_statement":           true,
	"catch_block":            true,
	"lambda_literal":         true,
}

// IsDecision reports whether kind adds a decision point.
func IsDecision(kind string) bool { return decisionKinds[kind] }

// AnalyzeTree computes complexity for every function in the tree.
func AnalyzeTree(tree *syntax.Tree) *FileComplexity {
	fc := &FileComplexity{Functions: make([]ComplexityResult, 0)}
	for _, idx := range tree.OfKind(syntax.KindFunction, syntax.KindInit, syntax.KindDeinit, syntax.KindLambda) {
		fc.Functions = append(fc.Functions, AnalyzeFunction(tree, idx))
	}
	fc.Aggregate()
	return fc
}

// AnalyzeFunction computes complexity for the function node at idx.
func AnalyzeFunction(tree *syntax.Tree, idx int) ComplexityResult {
	n := tree.Node(idx)
	startLine := tree.Line(n.Range.Start) + 1
	endLine := tree.Line(max(n.Range.End()-1, n.Range.Start)) + 1

	return ComplexityResult{
		Name:       tree.DeclarationName(idx),
		Kind:       n.Kind,
		StartLine:  startLine,
		EndLine:    endLine,
		Lines:      endLine - startLine + 1,
		Cyclomatic: cyclomatic(tree, idx),
		Cognitive:  cognitive(tree, idx, 0),
	}
}

// cyclomatic counts decision points + 1.
func cyclomatic(tree *syntax.Tree, idx int) int {
	complexity := 1
	for _, d := range tree.Descendants(idx) {
		if decisionKinds[tree.Node(d).Kind] {
			complexity++
		}
	}
	return complexity
}

// cognitive adds one per decision plus its nesting depth.
func cognitive(tree *syntax.Tree, idx int, nesting int) int {
	complexity := 0
	childNesting := nesting
	for _, c := range tree.Node(idx).Children {
		kind := tree.Node(c).Kind
		if decisionKinds[kind] {
			complexity += 1 + nesting
		}
		if nestingKinds[kind] {
			childNesting = nesting + 1
		} else {
			childNesting = nesting
		}
		complexity += cognitive(tree, c, childNesting)
	}
	return complexity
}
