package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ocmod-labs/ocmodctl/internal/branding"
	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

const (
	// DefaultBranch is tracked when none is configured.
	DefaultBranch = "main"
	// DefaultArtifactName is looked up when none is configured.
	DefaultArtifactName = "module.ocmod.zip"

	timestampLayout = "2006-01-02 15:04:05"
)

// Setting key suffixes inside the settings group.
const (
	KeySecret          = "secret_key"
	KeyDeploySecret    = "deploy_secret_key"
	KeyGitHubToken     = "github_token"
	KeyGitHubRepo      = "github_repo"
	KeyGitHubBranch    = "github_branch"
	KeyArtifactName    = "artifact_name"
	KeyLastDeployedSHA = "last_deployed_sha"
	KeyLastDeployLog   = "last_deploy_log"
	KeyLastRequestTime = "last_request_time"
	KeyStatus          = "status"
)

// LogRecord is the persisted outcome of the last deployment attempt.
type LogRecord struct {
	Timestamp      string   `json:"timestamp"`
	SHA            string   `json:"sha"`
	Success        bool     `json:"success"`
	Log            string   `json:"log"`
	InstalledFiles []string `json:"installed_files"`
	FilesCount     int      `json:"files_count"`
}

// State is the deployment view of the settings group.
type State struct {
	Token        string
	Repo         string
	Branch       string
	ArtifactName string
	LastSHA      string
	LastLog      *LogRecord
	LastRequest  time.Time
	Enabled      bool

	secret string
}

// Configured reports whether the repository settings are present.
func (s *State) Configured() bool {
	return s.Token != "" && s.Repo != ""
}

func key(suffix string) string {
	return branding.SettingKey(suffix)
}

// LoadState reads the settings group. A malformed log record is dropped.
func LoadState(ctx context.Context, settings registry.SettingsStore) (*State, error) {
	values, err := settings.GetSetting(ctx, branding.SettingsGroup())
	if err != nil {
		return nil, fmt.Errorf("reading deploy settings: %w", err)
	}
	return stateFrom(values), nil
}

func stateFrom(values map[string]string) *State {
	s := &State{
		Token:        strings.TrimSpace(values[key(KeyGitHubToken)]),
		Repo:         strings.TrimSpace(values[key(KeyGitHubRepo)]),
		Branch:       strings.TrimSpace(values[key(KeyGitHubBranch)]),
		ArtifactName: strings.TrimSpace(values[key(KeyArtifactName)]),
		LastSHA:      values[key(KeyLastDeployedSHA)],
		Enabled:      values[key(KeyStatus)] == "1",
		secret:       values[key(KeyDeploySecret)],
	}
	if s.Branch == "" {
		s.Branch = DefaultBranch
	}
	if s.ArtifactName == "" {
		s.ArtifactName = DefaultArtifactName
	}
	if ts, err := strconv.ParseInt(values[key(KeyLastRequestTime)], 10, 64); err == nil && ts > 0 {
		s.LastRequest = time.Unix(ts, 0)
	}
	if raw := values[key(KeyLastDeployLog)]; raw != "" {
		var rec LogRecord
		if json.Unmarshal([]byte(raw), &rec) == nil {
			s.LastLog = &rec
		}
	}
	return s
}

func newLogRecord(now time.Time, sha string, success bool, log string, files []string) *LogRecord {
	if files == nil {
		files = []string{}
	}
	return &LogRecord{
		Timestamp:      now.Format(timestampLayout),
		SHA:            sha,
		Success:        success,
		Log:            log,
		InstalledFiles: files,
		FilesCount:     len(files),
	}
}

func saveLogRecord(ctx context.Context, settings registry.SettingsStore, rec *LogRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding deploy log: %w", err)
	}
	return registry.MergeSettings(ctx, settings, branding.SettingsGroup(), map[string]string{
		key(KeyLastDeployLog): string(raw),
	})
}
