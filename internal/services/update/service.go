// Package update checks GitHub releases for a newer dbkeeper version.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// DefaultReleaseURL is the GitHub API endpoint for the latest release.
const DefaultReleaseURL = "https://api.github.com/repos/dbkeeper/dbkeeper/releases/latest"

type release struct {
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

// CheckResult describes the outcome of a version check.
type CheckResult struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	DownloadURL     string
}

// Service defines the update checker interface.
type Service interface {
	Check(ctx context.Context, currentVersion string) (*CheckResult, error)
}

// Impl implements the update Service.
type Impl struct {
	client     *http.Client
	releaseURL string
	logger     zerolog.Logger
}

// New creates a new update service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		client:     &http.Client{Timeout: 10 * time.Second},
		releaseURL: DefaultReleaseURL,
		logger:     logger,
	}
}

// NewWithClient creates a new update service with a custom HTTP client and
// release URL (for testing).
func NewWithClient(logger zerolog.Logger, client *http.Client, releaseURL string) *Impl {
	return &Impl{
		client:     client,
		releaseURL: releaseURL,
		logger:     logger,
	}
}

// Check fetches the latest release and compares it against currentVersion.
// Development builds ("dev") are never reported as outdated.
func (s *Impl) Check(ctx context.Context, currentVersion string) (*CheckResult, error) {
	result := &CheckResult{CurrentVersion: currentVersion}
	if currentVersion == "dev" {
		return result, nil
	}

	current, err := semver.NewVersion(currentVersion)
	if err != nil {
		return nil, fmt.Errorf("parsing current version %q: %w", currentVersion, err)
	}

	rel, err := s.fetchLatest(ctx)
	if err != nil {
		return nil, err
	}
	result.LatestVersion = rel.TagName

	latest, err := semver.NewVersion(rel.TagName)
	if err != nil {
		return nil, fmt.Errorf("parsing release tag %q: %w", rel.TagName, err)
	}

	if !latest.GreaterThan(current) {
		return result, nil
	}

	result.UpdateAvailable = true
	assetName := fmt.Sprintf("dbkeeper-%s-%s.tar.gz", runtime.GOOS, runtime.GOARCH)
	for _, a := range rel.Assets {
		if a.Name == assetName {
			result.DownloadURL = a.DownloadURL
			break
		}
	}

	s.logger.Info().
		Str("current", currentVersion).
		Str("latest", rel.TagName).
		Msg("newer release available")
	return result, nil
}

func (s *Impl) fetchLatest(ctx context.Context) (*release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.releaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building release request: %w", err)
	}
	req.Header.Set("User-Agent", "dbkeeper-updater")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching latest release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching latest release: unexpected status %s", resp.Status)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decoding release response: %w", err)
	}
	if rel.TagName == "" {
		return nil, fmt.Errorf("release response has no tag name")
	}

	return &rel, nil
}
