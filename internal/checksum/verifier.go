// Package checksum gates execution of installed binaries on the SHA-256
// digest published alongside the matching release.
package checksum

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

var guidSuffix = regexp.MustCompile(`_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// Options selects the release whose assets carry the expected digests.
type Options struct {
	// APIBase is the release registry root, e.g. https://api.github.com.
	APIBase string
	// Repo is owner/name.
	Repo    string
	Version string
}

// Verifier implements impls.ChecksumVerifier against a GitHub style
// release registry.
type Verifier struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

func NewVerifier(opts Options, logger *slog.Logger) *Verifier {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 30 * time.Second

	opts.APIBase = strings.TrimRight(opts.APIBase, "/")
	return &Verifier{
		opts:   opts,
		http:   retryClient.StandardClient(),
		logger: logger,
	}
}

// AssetName is the release asset holding the digest of executablePath: the
// basename plus .sha256 with any embedded org GUID removed.
func AssetName(executablePath string) string {
	base := filepath.Base(strings.ReplaceAll(executablePath, `\`, "/"))
	return guidSuffix.ReplaceAllString(base+".sha256", "")
}

// Verify returns nil only when the local digest equals the published one.
// Every other outcome is a *domain.ErrIntegrity.
func (v *Verifier) Verify(ctx context.Context, executablePath string) error {
	asset := AssetName(executablePath)

	expected, err := v.ExpectedDigest(ctx, asset)
	if err != nil {
		v.logger.Error("failed to fetch published checksum", "asset", asset, "err", err)
		return &domain.ErrIntegrity{Op: "fetch digest", Path: executablePath, Err: err}
	}

	local, err := FileDigest(executablePath)
	if err != nil {
		v.logger.Error("failed to hash local binary", "path", executablePath, "err", err)
		return &domain.ErrIntegrity{Op: "hash", Path: executablePath, Err: err}
	}

	v.logger.Info("checksums computed", "path", executablePath, "published", expected, "local", local)

	if expected != local {
		return &domain.ErrIntegrity{
			Op:   "compare",
			Path: executablePath,
			Err:  fmt.Errorf("%w: published %s, local %s", domain.ErrChecksumMismatch, expected, local),
		}
	}
	return nil
}

type release struct {
	Assets []struct {
		Name        string `json:"name"`
		DownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// ExpectedDigest downloads the digest published as asset in release
// v<Version>. The result is lowercase hex.
func (v *Verifier) ExpectedDigest(ctx context.Context, asset string) (string, error) {
	releaseURL := fmt.Sprintf("%s/repos/%s/releases/tags/v%s", v.opts.APIBase, v.opts.Repo, v.opts.Version)

	body, err := v.get(ctx, releaseURL)
	if err != nil {
		return "", fmt.Errorf("release info: %w", err)
	}

	var rel release
	if err := json.Unmarshal(body, &rel); err != nil {
		return "", fmt.Errorf("decode release info: %w", err)
	}

	var downloadURL string
	for _, a := range rel.Assets {
		if a.Name == asset {
			downloadURL = a.DownloadURL
			break
		}
	}
	if downloadURL == "" {
		return "", fmt.Errorf("asset %s not found in release v%s", asset, v.opts.Version)
	}

	body, err = v.get(ctx, downloadURL)
	if err != nil {
		return "", fmt.Errorf("checksum file: %w", err)
	}

	digest := ParseDigest(string(body))
	if digest == "" {
		return "", errors.New("checksum file has no Hash line")
	}
	return digest, nil
}

// ParseDigest extracts the value of the first line starting with "Hash",
// as written by PowerShell's Get-FileHash | Format-List.
func ParseDigest(text string) string {
	sc := bufio.NewScanner(strings.NewReader(strings.TrimSpace(text)))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Hash") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 2 {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(parts[1]))
	}
	return ""
}

// FileDigest returns the lowercase hex SHA-256 of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (v *Verifier) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}
	return body, nil
}
