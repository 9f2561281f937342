// Copyright 2025 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"
	"github.com/google/go-github/v54/github"
	giturl "github.com/kubescape/go-git-url"

	"chainguard.dev/bomfetch/pkg/config"
	"chainguard.dev/bomfetch/pkg/sbom"
)

// Patterns tried, in order, when the declared asset pattern matches nothing.
// Projects publish SBOMs under a handful of conventional names; exhausting
// these before giving up saves a config knob for the common cases.
var fallbackAssetPatterns = []string{
	"*.cdx.json",
	"*.bom.json",
	"*.spdx.json",
	"bom.json",
	"sbom.json",
	"*sbom*.json",
}

// ReleaseClient is the GitHub release surface the github_release source
// uses.
type ReleaseClient interface {
	GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*github.RepositoryRelease, error)
	DownloadAsset(ctx context.Context, owner, repo string, id int64) ([]byte, error)
}

type githubReleases struct {
	client *github.Client
}

func newGithubReleases(ctx context.Context) *githubReleases {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return &githubReleases{client: github.NewTokenClient(ctx, token)}
	}
	return &githubReleases{client: github.NewClient(nil)}
}

func (g *githubReleases) GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*github.RepositoryRelease, error) {
	release, _, err := g.client.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
	return release, err
}

func (g *githubReleases) DownloadAsset(ctx context.Context, owner, repo string, id int64) ([]byte, error) {
	rc, _, err := g.client.Repositories.DownloadReleaseAsset(ctx, owner, repo, id, http.DefaultClient)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// parseRepo accepts owner/name or a full GitHub URL.
func parseRepo(repo string) (owner, name string, err error) {
	if strings.Contains(repo, "://") {
		gitURL, err := giturl.NewGitURL(repo)
		if err != nil {
			return "", "", fmt.Errorf("parsing repo URL %q: %w", repo, err)
		}
		return gitURL.GetOwnerName(), gitURL.GetRepoName(), nil
	}
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo %q is not owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// ResolvedReleaseParams is the github_release source descriptor with
// defaults applied and the repo split into owner and name.
type ResolvedReleaseParams struct {
	Owner        string
	Repo         string
	Asset        string
	AssetPattern string
	TagPrefix    string
	TagSuffix    string
}

func resolveReleaseParams(src *config.Source) (ResolvedReleaseParams, error) {
	owner, repo, err := parseRepo(src.Repo)
	if err != nil {
		return ResolvedReleaseParams{}, err
	}
	return ResolvedReleaseParams{
		Owner:        owner,
		Repo:         repo,
		Asset:        src.Asset,
		AssetPattern: src.AssetPattern,
		TagPrefix:    src.TagPrefix,
		TagSuffix:    src.TagSuffix,
	}, nil
}

// Tag renders the release tag for a version, e.g. prefix "v" and version
// "2.0.0" yield "v2.0.0".
func (p ResolvedReleaseParams) Tag(version string) string {
	return p.TagPrefix + version + p.TagSuffix
}

// AssetName substitutes the resolved version into an exact asset name.
func (p ResolvedReleaseParams) AssetName(version string) string {
	return strings.ReplaceAll(p.Asset, "${version}", version)
}

// ReleaseAssetSource downloads an SBOM published as a GitHub release asset.
type ReleaseAssetSource struct {
	opts     Options
	releases ReleaseClient
}

func NewReleaseAssetSource(opts Options, releases ReleaseClient) *ReleaseAssetSource {
	if releases == nil {
		releases = newGithubReleases(context.Background())
	}
	return &ReleaseAssetSource{opts: opts, releases: releases}
}

func (s *ReleaseAssetSource) Type() string {
	return TypeGithubRelease
}

func (s *ReleaseAssetSource) Fetch(ctx context.Context, app *config.AppConfig, version string) (*FetchResult, error) {
	log := clog.FromContext(ctx)

	if err := checkType(s, app); err != nil {
		return nil, err
	}
	params, err := resolveReleaseParams(&app.Source)
	if err != nil {
		return nil, err
	}
	tag := params.Tag(version)

	if s.opts.DryRun {
		log.Infof("dry run: skipping release asset download for %s/%s@%s", params.Owner, params.Repo, tag)
		doc, err := sbom.Placeholder(app.Name, version, app.Format)
		if err != nil {
			return nil, err
		}
		return &FetchResult{Document: doc, Format: app.Format}, nil
	}

	log.Infof("looking up release %s/%s@%s", params.Owner, params.Repo, tag)
	release, err := s.releases.GetReleaseByTag(ctx, params.Owner, params.Repo, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching release %s/%s@%s: %v", ErrDownloadFailed, params.Owner, params.Repo, tag, err)
	}

	asset, err := selectAsset(ctx, release, params, version)
	if err != nil {
		return nil, err
	}

	log.Infof("downloading asset %s (%s)", asset.GetName(), humanize.Bytes(uint64(asset.GetSize())))
	doc, err := s.releases.DownloadAsset(ctx, params.Owner, params.Repo, asset.GetID())
	if err != nil {
		return nil, fmt.Errorf("%w: asset %s: %v", ErrDownloadFailed, asset.GetName(), err)
	}

	return &FetchResult{Document: doc, Format: app.Format}, nil
}

func selectAsset(ctx context.Context, release *github.RepositoryRelease, params ResolvedReleaseParams, version string) (*github.ReleaseAsset, error) {
	log := clog.FromContext(ctx)

	// Exact names never fall back; a miss means the config is wrong.
	if params.Asset != "" {
		want := params.AssetName(version)
		for _, asset := range release.Assets {
			if asset.GetName() == want {
				return asset, nil
			}
		}
		return nil, fmt.Errorf("%w: release %s has no asset named %q", ErrAssetNotFound, release.GetTagName(), want)
	}

	patterns := append([]string{params.AssetPattern}, fallbackAssetPatterns...)
	for i, pattern := range patterns {
		for _, asset := range release.Assets {
			ok, err := path.Match(pattern, asset.GetName())
			if err != nil {
				return nil, fmt.Errorf("bad asset pattern %q: %w", pattern, err)
			}
			if ok {
				if i > 0 {
					log.Warnf("asset pattern %q matched nothing, using fallback %q", params.AssetPattern, pattern)
				}
				return asset, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: release %s matched neither %q nor any fallback pattern",
		ErrAssetNotFound, release.GetTagName(), params.AssetPattern)
}
