package patch

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/layout"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

// Loader collects the documents of a full-scope run: the host baseline
// system/modification.xml, developer system/*.ocmod.xml files and every
// active modification in the registry, in that order.
type Loader struct {
	fs    afero.Fs
	roots layout.Roots
	mods  registry.ModificationRegistry
	log   *logging.ExecLog
}

// NewLoader creates a Loader.
func NewLoader(fs afero.Fs, roots layout.Roots, mods registry.ModificationRegistry, log *logging.ExecLog) *Loader {
	return &Loader{fs: fs, roots: roots, mods: mods, log: log}
}

// All returns every document. Documents that fail to parse are logged and
// skipped.
func (l *Loader) All(ctx context.Context) ([]Document, error) {
	var docs []Document

	if l.roots.System != "" {
		files := []string{filepath.Join(l.roots.System, "modification.xml")}
		dev, err := afero.Glob(l.fs, filepath.Join(l.roots.System, "*.ocmod.xml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(dev)
		files = append(files, dev...)

		for _, f := range files {
			raw, err := afero.ReadFile(l.fs, f)
			if err != nil {
				continue
			}
			if doc, ok := l.parse(raw, f); ok {
				docs = append(docs, *doc)
			}
		}
	}

	mods, err := l.mods.ActiveModifications(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range mods {
		doc, ok := l.parse([]byte(m.XML), m.Code)
		if !ok {
			continue
		}
		doc.InstallID = m.InstallID
		if doc.Name == "" {
			doc.Name = m.Name
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func (l *Loader) parse(raw []byte, source string) (*Document, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		l.log.Detailf("Error processing modification %s: %v", source, err)
		return nil, false
	}
	return doc, true
}
