package analysis

import (
	"context"
	"fmt"
	"strings"

	"codeoverlay/internal/complexity"
	"codeoverlay/internal/errors"
	"codeoverlay/internal/syntax"
)

// LocalAnalyzer computes payloads in-process: documentation from doc
// comments or the signature, complexity from a parse of the snippet.
type LocalAnalyzer struct{}

// Analyze implements Analyzer.
func (LocalAnalyzer) Analyze(ctx context.Context, s Snippet) (Payload, error) {
	var p Payload
	if s.Wants(FeatureDocumentation) {
		p.Documentation = document(s)
	}
	if s.Wants(FeatureComplexity) {
		res, err := measure(ctx, s)
		if err != nil {
			return Payload{}, err
		}
		p.Complexity = res
	}
	return p, nil
}

func document(s Snippet) *Documentation {
	doc := &Documentation{Signature: signature(s.Code)}
	if summary := commentText(s.Comments); summary != "" {
		doc.Summary = summary
		doc.Source = "comment"
		return doc
	}
	doc.Source = "generated"
	switch s.NodeKind {
	case syntax.KindInit:
		doc.Summary = "Initializer."
	case syntax.KindDeinit:
		doc.Summary = "Deinitializer."
	case syntax.KindLambda:
		doc.Summary = "Closure."
	default:
		doc.Summary = fmt.Sprintf("Function %s.", s.Name)
	}
	if n := strings.Count(s.Code, "\n") + 1; n > 1 {
		doc.Summary += fmt.Sprintf(" %d lines.", n)
	}
	return doc
}

func measure(ctx context.Context, s Snippet) (*complexity.ComplexityResult, error) {
	tree, err := syntax.Parse(ctx, s.Code)
	if err != nil {
		return nil, errors.Wrap(errors.AnalysisFailed, "parsing snippet", err)
	}
	fns := tree.OfKind(syntax.KindFunction, syntax.KindInit, syntax.KindDeinit, syntax.KindLambda)
	if len(fns) == 0 {
		return nil, errors.Newf(errors.AnalysisFailed, "no function in %s snippet", s.NodeKind)
	}
	res := complexity.AnalyzeFunction(tree, fns[0])
	if s.Name != "" {
		res.Name = s.Name
	}
	return &res, nil
}
