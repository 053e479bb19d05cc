package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
)

// RetentionDays is how long GitHub keeps workflow artifacts.
const RetentionDays = 90

// Run is a workflow run.
type Run struct {
	ID         int64  `json:"id"`
	HeadSHA    string `json:"head_sha"`
	HeadBranch string `json:"head_branch"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// Artifact is a workflow artifact.
type Artifact struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SizeInBytes        int64     `json:"size_in_bytes"`
	ArchiveDownloadURL string    `json:"archive_download_url"`
	Expired            bool      `json:"expired"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// LatestCommitSHA returns the tip commit of branch.
func (c *Client) LatestCommitSHA(ctx context.Context, branch string) (string, error) {
	var commit struct {
		SHA string `json:"sha"`
	}
	if err := c.getJSON(ctx, c.repoURL("/commits/%s", url.PathEscape(branch)), &commit); err != nil {
		return "", err
	}
	if commit.SHA == "" {
		return "", apperr.New(apperr.Remote, "could not get the latest commit SHA of branch %s", branch)
	}
	return commit.SHA, nil
}

// LatestCompletedRun returns the most recent completed workflow run for sha
// on branch.
func (c *Client) LatestCompletedRun(ctx context.Context, sha, branch string) (*Run, error) {
	q := url.Values{}
	q.Set("head_sha", sha)
	q.Set("head_branch", branch)
	q.Set("per_page", "1")
	q.Set("status", "completed")

	var runs struct {
		WorkflowRuns []Run `json:"workflow_runs"`
	}
	if err := c.getJSON(ctx, c.repoURL("/actions/runs?%s", q.Encode()), &runs); err != nil {
		return nil, err
	}
	if len(runs.WorkflowRuns) == 0 {
		return nil, apperr.New(apperr.Remote, "no workflow runs found for commit %s on branch %s", short(sha), branch)
	}
	return &runs.WorkflowRuns[0], nil
}

// Artifacts lists the artifacts of a run.
func (c *Client) Artifacts(ctx context.Context, runID int64) ([]Artifact, error) {
	var list struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	if err := c.getJSON(ctx, c.repoURL("/actions/runs/%d/artifacts", runID), &list); err != nil {
		return nil, err
	}
	if len(list.Artifacts) == 0 {
		return nil, apperr.New(apperr.Remote, "no artifacts found in workflow run #%d", runID)
	}
	return list.Artifacts, nil
}

// FindArtifact selects the artifact named exactly name. An expired match is
// an error naming the retention period; no match lists what is available.
func FindArtifact(artifacts []Artifact, name string) (*Artifact, error) {
	for i := range artifacts {
		a := &artifacts[i]
		if a.Name != name {
			continue
		}
		if a.Expired {
			return nil, apperr.New(apperr.Remote, "artifact %q has expired; GitHub keeps artifacts for %d days", name, RetentionDays)
		}
		if a.ArchiveDownloadURL != "" {
			return a, nil
		}
	}
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		n := a.Name
		if n == "" {
			n = "unknown"
		}
		names = append(names, n)
	}
	return nil, apperr.New(apperr.Remote, "artifact %q not found. Available artifacts: %s", name, strings.Join(names, ", "))
}

// Download saves url to dest. Only Authorization and User-Agent are sent;
// the artifact endpoint redirects to storage that rejects API headers.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	if err := c.fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return apperr.Wrap(apperr.IO, err, "creating download directory")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Remote, err, "downloading artifact")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		partial, _ := io.ReadAll(io.LimitReader(resp.Body, 100))
		if len(partial) > 0 {
			return apperr.New(apperr.Remote, "download failed: HTTP %d. Partial response: %s", resp.StatusCode, partial)
		}
		return apperr.New(apperr.Remote, "download failed: HTTP %d (expected 200)", resp.StatusCode)
	}

	f, err := c.fs.Create(dest)
	if err != nil {
		return apperr.Wrap(apperr.IO, err, "creating download file")
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		c.fs.Remove(dest)
		return apperr.Wrap(apperr.Remote, err, "reading download stream")
	}
	if n == 0 {
		c.fs.Remove(dest)
		return apperr.New(apperr.Remote, "downloaded file is empty")
	}
	return nil
}

// DownloadArtifact locates the artifact called name for sha on branch and
// saves it to dest.
func (c *Client) DownloadArtifact(ctx context.Context, sha, branch, name, dest string) (*Artifact, error) {
	run, err := c.LatestCompletedRun(ctx, sha, branch)
	if err != nil {
		return nil, err
	}
	artifacts, err := c.Artifacts(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	artifact, err := FindArtifact(artifacts, name)
	if err != nil {
		return nil, err
	}
	if err := c.Download(ctx, artifact.ArchiveDownloadURL, dest); err != nil {
		return nil, fmt.Errorf("downloading artifact %q: %w", name, err)
	}
	return artifact, nil
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
