package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// PathRecord is one path written by an installation, relative to the
// payload root ("admin/controller/extension/module/foo.php").
type PathRecord struct {
	Path string `json:"path"`
	Dir  bool   `json:"dir,omitempty"`
}

// InstalledRecord is the persistent result of one installation.
type InstalledRecord struct {
	ID        int64        `json:"id"`
	Filename  string       `json:"filename"`
	Paths     []PathRecord `json:"paths"`
	CreatedAt time.Time    `json:"created_at"`
}

// Modification is a registered manifest together with its raw XML.
type Modification struct {
	ID        int64     `json:"id"`
	InstallID int64     `json:"install_id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Author    string    `json:"author"`
	Version   string    `json:"version"`
	Link      string    `json:"link"`
	XML       string    `json:"-"`
	Status    bool      `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ExtensionRegistry tracks installations, the paths they wrote and the
// installed extensions of the host.
type ExtensionRegistry interface {
	AddInstall(ctx context.Context, filename string) (int64, error)
	AddPath(ctx context.Context, installID int64, p PathRecord) error
	GetInstall(ctx context.Context, installID int64) (*InstalledRecord, error)
	ListInstalls(ctx context.Context) ([]InstalledRecord, error)
	DeleteInstall(ctx context.Context, installID int64) error

	InstalledExtensions(ctx context.Context, kind string) ([]string, error)
	InstallExtension(ctx context.Context, kind, code string) error
}

// ModificationRegistry stores manifests.
type ModificationRegistry interface {
	ModificationByCode(ctx context.Context, code string) (*Modification, error)
	AddModification(ctx context.Context, m *Modification) (int64, error)
	DeleteModification(ctx context.Context, id int64) error
	DeleteModificationsByInstall(ctx context.Context, installID int64) error
	ActiveModifications(ctx context.Context) ([]Modification, error)
	ListModifications(ctx context.Context) ([]Modification, error)
}

// SettingsStore reads and writes settings groups. EditSetting replaces the
// whole group.
type SettingsStore interface {
	GetSetting(ctx context.Context, group string) (map[string]string, error)
	EditSetting(ctx context.Context, group string, values map[string]string) error
}
