package syntax

// Swift node kinds the rest of the system cares about.
const (
	KindSourceFile      = "source_file"
	KindFunction        = "function_declaration"
	KindInit            = "init_declaration"
	KindDeinit          = "deinit_declaration"
	KindLambda          = "lambda_literal"
	KindFunctionBody    = "function_body"
	KindStatements      = "statements"
	KindIdentifier      = "simple_identifier"
	KindComment         = "comment"
	KindMultiComment    = "multiline_comment"
	KindControlTransfer = "control_transfer_statement"
	KindError           = "ERROR"
)

// declarationKinds are the named, non-closure function forms.
var declarationKinds = map[string]bool{
	KindFunction: true,
	KindInit:     true,
	KindDeinit:   true,
}

// IsDeclaration reports whether kind is a named function declaration.
func IsDeclaration(kind string) bool { return declarationKinds[kind] }

// IsFunction reports whether kind introduces a function scope, closures included.
func IsFunction(kind string) bool { return declarationKinds[kind] || kind == KindLambda }

// IsComment reports whether kind is a comment.
func IsComment(kind string) bool { return kind == KindComment || kind == KindMultiComment }

// DeclarationName returns the declared name of the function at idx.
func (t *Tree) DeclarationName(idx int) string {
	switch t.Nodes[idx].Kind {
	case KindInit:
		return "init"
	case KindDeinit:
		return "deinit"
	case KindLambda:
		return "<closure>"
	}
	if c := t.ChildOfKind(idx, KindIdentifier); c >= 0 {
		return t.NodeText(c)
	}
	return "<unknown>"
}
