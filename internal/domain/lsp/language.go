package lsp

// LanguageServerConfig defines how to launch and drive a language server for
// a given language.
type LanguageServerConfig struct {
	LanguageID string         // textDocument languageId
	Extensions []string       // file extensions owned by this language
	Command    []string       // e.g. ["gopls", "serve"]
	InitOpts   map[string]any // LSP initializationOptions (optional)

	// InitProgressTokens are $/progress tokens the server reports while it
	// builds its initial model. Readiness waits until each was seen.
	InitProgressTokens []string

	// ModifierScores adds a per-modifier bonus when ranking candidates.
	// Scores of multiple modifiers on one token are summed.
	ModifierScores map[string]int

	// SearchScopeExtension marks servers that accept the rust-analyzer
	// workspace/symbol searchScope and searchKind parameters.
	SearchScopeExtension bool
}

// DefaultServers maps language names to their default server configurations.
// All servers communicate via stdio.
var DefaultServers = map[string]LanguageServerConfig{
	"rust": {
		LanguageID: "rust",
		Extensions: []string{".rs"},
		Command:    []string{"rust-analyzer"},
		InitOpts: map[string]any{
			"files": map[string]any{"watcher": "server"},
			"hover": map[string]any{
				"dropGlue":     map[string]any{"enable": false},
				"memoryLayout": map[string]any{"enable": false},
				"show": map[string]any{
					"enumVariants":    100,
					"fields":          100,
					"traitAssocItems": 100,
				},
			},
			"workspace": map[string]any{
				"symbol": map[string]any{
					"search": map[string]any{"scope": "workspace_and_dependencies"},
				},
			},
		},
		InitProgressTokens: []string{
			"rustAnalyzer/Building CrateGraph",
			"rustAnalyzer/Roots Scanned",
			"rustAnalyzer/cachePriming",
			"rust-analyzer/flycheck/0",
		},
		ModifierScores: map[string]int{
			"declaration": 10,
			"injected":    -100,
			"library":     -1,
			"public":      10,
		},
		SearchScopeExtension: true,
	},
	"go": {
		LanguageID:     "go",
		Extensions:     []string{".go"},
		Command:        []string{"gopls", "serve"},
		InitOpts:       map[string]any{"semanticTokens": true},
		ModifierScores: map[string]int{"definition": 10, "defaultLibrary": -1},
	},
	"python": {
		LanguageID:     "python",
		Extensions:     []string{".py", ".pyi"},
		Command:        []string{"pyright-langserver", "--stdio"},
		ModifierScores: map[string]int{"declaration": 10, "builtin": -1},
	},
	"typescript": {
		LanguageID:     "typescript",
		Extensions:     []string{".ts", ".tsx", ".js", ".jsx"},
		Command:        []string{"typescript-language-server", "--stdio"},
		ModifierScores: map[string]int{"declaration": 10, "defaultLibrary": -1},
	},
}

// ServerFor returns the configuration for language, with command overriding
// the default binary when non-empty. ok is false for unknown languages
// without an explicit command.
func ServerFor(language string, command []string) (LanguageServerConfig, bool) {
	cfg, ok := DefaultServers[language]
	if len(command) > 0 {
		cfg.Command = command
		if cfg.LanguageID == "" {
			cfg.LanguageID = language
		}
		return cfg, true
	}
	return cfg, ok
}
