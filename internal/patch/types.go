// Package patch applies OCMOD-style search/insert/replace operations to
// source files and writes the results to an overlay tree. Originals are
// never modified.
package patch

// Kind is the operation element that carries the payload.
type Kind string

const (
	KindAdd     Kind = "add"
	KindReplace Kind = "replace"
)

// Position says where an add payload goes relative to the search text.
type Position string

const (
	PositionBefore  Position = "before"
	PositionAfter   Position = "after"
	PositionReplace Position = "replace"
)

// Operation is one splice applied to a buffer.
type Operation struct {
	Kind     Kind
	Position Position
	// Index selects the occurrence an add/replace insert lands before.
	// Nil counts as 0; a negative index replaces every occurrence.
	Index   *int
	Search  string
	Payload string
}

// FileTarget is a set of path expressions and the operations applied, in
// order, to every file they resolve to.
type FileTarget struct {
	// Paths are the "|"-separated alternatives of the path attribute.
	Paths      []string
	Operations []Operation
}

// Document is a parsed patch document. InstallID is zero for documents not
// owned by an installation (baseline and system/*.ocmod.xml).
type Document struct {
	Name      string
	Code      string
	InstallID int64
	Files     []FileTarget
}

// ScopeMode selects which documents a run processes.
type ScopeMode int

const (
	// ScopeInstallation processes only documents of one installation.
	ScopeInstallation ScopeMode = iota
	// ScopeAll processes every document and rebuilds the overlay from scratch.
	ScopeAll
)

func (m ScopeMode) String() string {
	if m == ScopeAll {
		return "all"
	}
	return "installation"
}

// ParseScopeMode maps a config value onto a ScopeMode. Unknown values fall
// back to ScopeInstallation.
func ParseScopeMode(s string) ScopeMode {
	if s == "all" {
		return ScopeAll
	}
	return ScopeInstallation
}

// Scope restricts a patch run.
type Scope struct {
	Mode      ScopeMode
	InstallID int64
}

// Includes reports whether doc is eligible under the scope.
func (s Scope) Includes(doc Document) bool {
	if s.Mode == ScopeAll {
		return true
	}
	return doc.InstallID != 0 && doc.InstallID == s.InstallID
}
