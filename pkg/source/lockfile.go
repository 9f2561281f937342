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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/kballard/go-shellquote"
	"golang.org/x/time/rate"

	"chainguard.dev/bomfetch/internal/logwriter"
	"chainguard.dev/bomfetch/pkg/config"
	bomhttp "chainguard.dev/bomfetch/pkg/http"
	"chainguard.dev/bomfetch/pkg/sbom"
)

// RepoFileClient fetches a single file out of a repository at a tag.
type RepoFileClient interface {
	FetchFile(ctx context.Context, owner, repo, tag, path string) ([]byte, error)
}

type rawGithubFiles struct {
	client *bomhttp.RLHTTPClient
}

func newRawGithubFiles() *rawGithubFiles {
	// raw.githubusercontent.com throttles aggressively; stay well under.
	return &rawGithubFiles{client: bomhttp.NewClient(rate.NewLimiter(rate.Limit(5), 5))}
}

func (r *rawGithubFiles) FetchFile(ctx context.Context, owner, repo, tag, path string) ([]byte, error) {
	uri := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", owner, repo, tag, path)
	return r.client.Get(ctx, uri)
}

// Sibling manifests fetched best-effort alongside a lockfile. Generators
// produce richer output when the manifest that produced the lockfile sits
// next to it.
var siblingManifests = map[string]string{
	"package-lock.json":   "package.json",
	"npm-shrinkwrap.json": "package.json",
	"yarn.lock":           "package.json",
	"pnpm-lock.yaml":      "package.json",
	"Cargo.lock":          "Cargo.toml",
	"poetry.lock":         "pyproject.toml",
	"uv.lock":             "pyproject.toml",
	"Pipfile.lock":        "Pipfile",
	"Gemfile.lock":        "Gemfile",
	"go.sum":              "go.mod",
	"composer.lock":       "composer.json",
	"mix.lock":            "mix.exs",
}

// ResolvedLockfileParams is the lockfile source descriptor with defaults
// applied.
type ResolvedLockfileParams struct {
	Owner      string
	Repo       string
	Lockfile   string
	TagPrefix  string
	TagSuffix  string
	Generator  string
	ExtraFiles []string
	Clone      bool
	PostClone  []string
}

func resolveLockfileParams(src *config.Source) (ResolvedLockfileParams, error) {
	owner, repo, err := parseRepo(src.Repo)
	if err != nil {
		return ResolvedLockfileParams{}, err
	}
	p := ResolvedLockfileParams{
		Owner:      owner,
		Repo:       repo,
		Lockfile:   src.Lockfile,
		TagPrefix:  src.TagPrefix,
		TagSuffix:  src.TagSuffix,
		Generator:  src.Generator,
		ExtraFiles: src.ExtraFiles,
		Clone:      src.Clone,
		PostClone:  src.PostClone,
	}
	if p.Generator == "" {
		p.Generator = "auto"
	}
	return p, nil
}

func (p ResolvedLockfileParams) Tag(version string) string {
	return p.TagPrefix + version + p.TagSuffix
}

func (p ResolvedLockfileParams) RepoURL() string {
	return fmt.Sprintf("https://github.com/%s/%s", p.Owner, p.Repo)
}

// LockfileGenerationSource fetches a repository's lockfile (or clones the
// whole repo) into a scratch directory and runs an SBOM generator over it.
type LockfileGenerationSource struct {
	opts       Options
	files      RepoFileClient
	cloner     Cloner
	generators []Generator
}

func NewLockfileGenerationSource(opts Options, files RepoFileClient, cloner Cloner, generators []Generator) *LockfileGenerationSource {
	if files == nil {
		files = newRawGithubFiles()
	}
	if cloner == nil {
		cloner = gitCloner{}
	}
	return &LockfileGenerationSource{opts: opts, files: files, cloner: cloner, generators: generators}
}

func (s *LockfileGenerationSource) Type() string {
	return TypeLockfile
}

func (s *LockfileGenerationSource) Fetch(ctx context.Context, app *config.AppConfig, version string) (*FetchResult, error) {
	log := clog.FromContext(ctx)

	if err := checkType(s, app); err != nil {
		return nil, err
	}
	params, err := resolveLockfileParams(&app.Source)
	if err != nil {
		return nil, err
	}
	tag := params.Tag(version)

	if s.opts.DryRun {
		log.Infof("dry run: skipping SBOM generation for %s@%s", params.RepoURL(), tag)
		doc, err := sbom.Placeholder(app.Name, version, app.Format)
		if err != nil {
			return nil, err
		}
		return &FetchResult{Document: doc, Format: app.Format}, nil
	}

	generator, err := selectGenerator(s.generators, params.Generator, app.Format)
	if err != nil {
		return nil, err
	}
	log.Infof("generating %s SBOM for %s@%s with %s", app.Format, params.RepoURL(), tag, generator.Name())

	// Scratch directory per run; removed on every exit path.
	workdir, err := os.MkdirTemp("", "bomfetch-*")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			log.Warnf("failed to remove work directory %s: %v", workdir, err)
		}
	}()

	if params.Clone {
		if err := s.cloner.Clone(ctx, params.RepoURL(), tag, workdir); err != nil {
			return nil, fmt.Errorf("%w: cloning %s@%s: %v", ErrDownloadFailed, params.RepoURL(), tag, err)
		}
		if err := runPostCloneCommands(ctx, workdir, params.PostClone); err != nil {
			return nil, err
		}
	} else if err := s.fetchInputs(ctx, params, tag, workdir); err != nil {
		return nil, err
	}

	doc, err := generator.Generate(ctx, workdir, app.Format)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Document: doc, Format: app.Format}, nil
}

// fetchInputs downloads the lockfile plus best-effort companions into
// workdir. Only the lockfile itself is required.
func (s *LockfileGenerationSource) fetchInputs(ctx context.Context, params ResolvedLockfileParams, tag, workdir string) error {
	log := clog.FromContext(ctx)

	fetch := func(path string) error {
		data, err := s.files.FetchFile(ctx, params.Owner, params.Repo, tag, path)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(workdir, filepath.Base(path)), data, 0o644)
	}

	if err := fetch(params.Lockfile); err != nil {
		return fmt.Errorf("%w: lockfile %s from %s@%s: %v", ErrDownloadFailed, params.Lockfile, params.RepoURL(), tag, err)
	}

	base := filepath.Base(params.Lockfile)
	if manifest, ok := siblingManifests[base]; ok {
		path := filepath.Join(filepath.Dir(params.Lockfile), manifest)
		if err := fetch(path); err != nil {
			log.Warnf("could not fetch companion manifest %s: %v", path, err)
		}
	}

	for _, extra := range params.ExtraFiles {
		if err := fetch(extra); err != nil {
			log.Warnf("could not fetch extra file %s: %v", extra, err)
		}
	}
	return nil
}

func runPostCloneCommands(ctx context.Context, workdir string, commands []string) error {
	log := clog.FromContext(ctx)

	for _, command := range commands {
		words, err := shellquote.Split(command)
		if err != nil {
			return fmt.Errorf("parsing post-clone command %q: %w", command, err)
		}
		if len(words) == 0 {
			continue
		}

		log.Infof("running post-clone command: %s", command)
		stream := logwriter.New(log.Debugf)
		cmd := exec.CommandContext(ctx, words[0], words[1:]...)
		cmd.Dir = workdir
		var output bytes.Buffer
		cmd.Stdout = io.MultiWriter(&output, stream)
		cmd.Stderr = io.MultiWriter(&output, stream)
		err = cmd.Run()
		stream.Close()
		if err != nil {
			return fmt.Errorf("post-clone command %q: %w: %s", command, err, output.String())
		}
	}
	return nil
}
