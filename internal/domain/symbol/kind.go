package symbol

import (
	"fmt"
	"strings"

	"github.com/Strob0t/sensebridge/internal/domain/lsp"
)

// Kind is the coarse symbol classification exposed to callers.
type Kind string

const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindType     Kind = "type"
	KindField    Kind = "field"
	KindVariable Kind = "variable"
	KindModule   Kind = "module"
	KindConstant Kind = "constant"
	KindOther    Kind = "other"
)

// Kinds lists every kind in presentation order.
var Kinds = []Kind{KindFunction, KindMethod, KindType, KindField, KindVariable, KindModule, KindConstant, KindOther}

// ParseKind parses a kind name, accepting a few common aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "function", "fn", "func":
		return KindFunction, nil
	case "method":
		return KindMethod, nil
	case "type", "struct", "class", "enum", "interface", "trait":
		return KindType, nil
	case "field", "property", "member":
		return KindField, nil
	case "variable", "var", "let":
		return KindVariable, nil
	case "module", "mod", "package", "namespace":
		return KindModule, nil
	case "constant", "const", "static":
		return KindConstant, nil
	case "other":
		return KindOther, nil
	default:
		return "", fmt.Errorf("unknown symbol kind %q", s)
	}
}

// FromLSP maps a protocol SymbolKind onto a Kind.
func FromLSP(k lsp.SymbolKind) Kind {
	switch k {
	case lsp.SymbolKindFile, lsp.SymbolKindModule, lsp.SymbolKindNamespace, lsp.SymbolKindPackage:
		return KindModule
	case lsp.SymbolKindClass, lsp.SymbolKindEnum, lsp.SymbolKindInterface, lsp.SymbolKindStruct,
		lsp.SymbolKindTypeParameter, lsp.SymbolKindObject:
		return KindType
	case lsp.SymbolKindMethod, lsp.SymbolKindConstructor:
		return KindMethod
	case lsp.SymbolKindFunction, lsp.SymbolKindOperator:
		return KindFunction
	case lsp.SymbolKindProperty, lsp.SymbolKindField, lsp.SymbolKindEvent:
		return KindField
	case lsp.SymbolKindVariable:
		return KindVariable
	case lsp.SymbolKindConstant, lsp.SymbolKindEnumMember:
		return KindConstant
	default:
		return KindOther
	}
}

// ToLSP returns the protocol kinds that map onto k, for server-side filtering.
func (k Kind) ToLSP() []lsp.SymbolKind {
	var out []lsp.SymbolKind
	for _, lk := range lsp.AllSymbolKinds() {
		if FromLSP(lk) == k {
			out = append(out, lk)
		}
	}
	return out
}

// Matches reports whether k satisfies the optional filter want.
// Methods satisfy a function filter.
func (k Kind) Matches(want *Kind) bool {
	if want == nil {
		return true
	}
	if k == *want {
		return true
	}
	return *want == KindFunction && k == KindMethod
}
