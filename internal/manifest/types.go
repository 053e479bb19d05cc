package manifest

import "github.com/ocmod-labs/ocmodctl/internal/patch"

// Manifest is a parsed install.xml.
type Manifest struct {
	Name    string
	Code    string
	Author  string
	Version string
	Link    string
	// Raw is the manifest text as shipped, stored with the modification.
	Raw string

	// Install is the explicit <install type="…" code="…"/> directive, if any.
	Install *Directive

	// Kind and ModuleCode are filled in by inference during Process.
	Kind       string
	ModuleCode string

	Settings []Setting
	Document *patch.Document
}

// Directive names the extension a package installs.
type Directive struct {
	Type string
	Code string
}

// Setting is one default setting pair.
type Setting struct {
	Key   string
	Value string
}
