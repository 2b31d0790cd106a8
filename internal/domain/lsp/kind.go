package lsp

// SymbolKind mirrors the LSP SymbolKind enumeration.
type SymbolKind int

const (
	SymbolKindFile SymbolKind = iota + 1
	SymbolKindModule
	SymbolKindNamespace
	SymbolKindPackage
	SymbolKindClass
	SymbolKindMethod
	SymbolKindProperty
	SymbolKindField
	SymbolKindConstructor
	SymbolKindEnum
	SymbolKindInterface
	SymbolKindFunction
	SymbolKindVariable
	SymbolKindConstant
	SymbolKindString
	SymbolKindNumber
	SymbolKindBoolean
	SymbolKindArray
	SymbolKindObject
	SymbolKindKey
	SymbolKindNull
	SymbolKindEnumMember
	SymbolKindStruct
	SymbolKindEvent
	SymbolKindOperator
	SymbolKindTypeParameter
)

// AllSymbolKinds is advertised in the workspace/symbol client capability.
func AllSymbolKinds() []SymbolKind {
	kinds := make([]SymbolKind, 0, int(SymbolKindTypeParameter))
	for k := SymbolKindFile; k <= SymbolKindTypeParameter; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}
