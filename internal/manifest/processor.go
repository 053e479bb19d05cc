package manifest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

// FileName is the manifest at the top of an extracted package.
const FileName = "install.xml"

var (
	controllerPath = regexp.MustCompile(`(admin|catalog)/controller/extension/([^/]+)/([^/]+)`)
	codePrefix     = regexp.MustCompile(`^([a-z]+)_(.+)$`)
	settingGroup   = regexp.MustCompile(`^([a-z_]+)_`)
)

// Processor registers manifests found in extracted packages.
type Processor struct {
	fs       afero.Fs
	exts     registry.ExtensionRegistry
	mods     registry.ModificationRegistry
	settings registry.SettingsStore
	log      *logging.ExecLog
}

// NewProcessor creates a Processor.
func NewProcessor(fs afero.Fs, exts registry.ExtensionRegistry, mods registry.ModificationRegistry, settings registry.SettingsStore, log *logging.ExecLog) *Processor {
	return &Processor{fs: fs, exts: exts, mods: mods, settings: settings, log: log}
}

// Process reads install.xml from stagingDir and registers it for installID.
// A package without a manifest is legal and yields (nil, nil).
func (p *Processor) Process(ctx context.Context, stagingDir string, installID int64) (*Manifest, error) {
	p.log.Infof("Processing install.xml...")

	path := filepath.Join(stagingDir, FileName)
	if ok, _ := afero.Exists(p.fs, path); !ok {
		p.log.Infof("install.xml not found, skipping manifest processing")
		return nil, nil
	}
	raw, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, err, "reading install.xml")
	}
	if len(raw) == 0 {
		return nil, apperr.New(apperr.IO, "install.xml is empty")
	}

	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("processing install.xml: %w", err)
	}

	if err := p.register(ctx, m, installID); err != nil {
		return nil, fmt.Errorf("processing install.xml: %w", err)
	}
	if m.Document != nil {
		m.Document.InstallID = installID
	}

	p.registerExtension(ctx, m)

	if err := p.mergeSettings(ctx, m.Settings); err != nil {
		return nil, fmt.Errorf("processing install.xml: %w", err)
	}
	return m, nil
}

// register replaces any modification with the same code.
func (p *Processor) register(ctx context.Context, m *Manifest, installID int64) error {
	existing, err := p.mods.ModificationByCode(ctx, m.Code)
	switch {
	case err == nil:
		p.log.Infof("Found existing modification with code %s, removing old version", m.Code)
		p.logVersionChange(existing.Version, m.Version)
		if err := p.mods.DeleteModification(ctx, existing.ID); err != nil {
			return err
		}
	case !errors.Is(err, registry.ErrNotFound):
		return err
	}

	_, err = p.mods.AddModification(ctx, &registry.Modification{
		InstallID: installID,
		Name:      m.Name,
		Code:      m.Code,
		Author:    m.Author,
		Version:   m.Version,
		Link:      m.Link,
		XML:       m.Raw,
		Status:    true,
	})
	if err != nil {
		return err
	}
	p.log.Infof("Modification added to the database: %s", m.Code)
	return nil
}

func (p *Processor) logVersionChange(from, to string) {
	prev, err1 := semver.NewVersion(from)
	next, err2 := semver.NewVersion(to)
	if err1 != nil || err2 != nil {
		if from != "" || to != "" {
			p.log.Detailf("Replacing version %q with %q", from, to)
		}
		return
	}
	switch next.Compare(prev) {
	case 1:
		p.log.Infof("Upgrading from %s to %s", prev, next)
	case -1:
		p.log.Infof("Downgrading from %s to %s", prev, next)
	default:
		p.log.Infof("Reinstalling version %s", next)
	}
}

// Infer determines the extension kind and code of a manifest: the install
// directive first, then the first controller path among the patch targets,
// then the "<kind>_<code>" shape of the manifest code.
func Infer(m *Manifest) (kind, code string) {
	if m.Install != nil && m.Install.Type != "" && m.Install.Code != "" {
		return m.Install.Type, m.Install.Code
	}
	if m.Document != nil {
		for _, f := range m.Document.Files {
			for _, p := range f.Paths {
				if match := controllerPath.FindStringSubmatch(p); match != nil {
					return match[2], match[3]
				}
			}
		}
	}
	if match := codePrefix.FindStringSubmatch(m.Code); match != nil {
		return match[1], match[2]
	}
	return "", ""
}

// registerExtension records the inferred extension. Failures are logged,
// never fatal.
func (p *Processor) registerExtension(ctx context.Context, m *Manifest) {
	m.Kind, m.ModuleCode = Infer(m)
	if m.Kind == "" || m.ModuleCode == "" {
		p.log.Detailf("Could not determine extension type and code")
		return
	}

	installed, err := p.exts.InstalledExtensions(ctx, m.Kind)
	if err != nil {
		p.log.Detailf("Listing installed %s extensions failed: %v", m.Kind, err)
		return
	}
	for _, c := range installed {
		if c == m.ModuleCode {
			p.log.Infof("Extension already registered: type=%s, code=%s", m.Kind, m.ModuleCode)
			return
		}
	}
	if err := p.exts.InstallExtension(ctx, m.Kind, m.ModuleCode); err != nil {
		p.log.Detailf("Registering extension %s/%s failed: %v", m.Kind, m.ModuleCode, err)
		return
	}
	p.log.Infof("Extension registered: type=%s, code=%s", m.Kind, m.ModuleCode)
}

// GroupSettings groups keys by their longest "<a-z_>_" prefix:
// module_shop_status belongs to module_shop. Keys without such a prefix or
// with an empty name are dropped.
func GroupSettings(settings []Setting) map[string]map[string]string {
	groups := map[string]map[string]string{}
	for _, s := range settings {
		if s.Key == "" {
			continue
		}
		match := settingGroup.FindStringSubmatch(s.Key)
		if match == nil {
			continue
		}
		g := groups[match[1]]
		if g == nil {
			g = map[string]string{}
			groups[match[1]] = g
		}
		g[s.Key] = s.Value
	}
	return groups
}

func (p *Processor) mergeSettings(ctx context.Context, settings []Setting) error {
	groups := GroupSettings(settings)
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := registry.MergeSettings(ctx, p.settings, name, groups[name]); err != nil {
			return err
		}
		p.log.Infof("Default settings added for %s", name)
	}
	return nil
}
