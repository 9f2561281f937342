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

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Cloner checks out a repository at a tag into a destination directory.
type Cloner interface {
	Clone(ctx context.Context, repoURL, tag, dest string) error
}

type gitCloner struct{}

func (gitCloner) Clone(ctx context.Context, repoURL, tag, dest string) error {
	log := clog.FromContext(ctx)
	log.Infof("cloning %s at tag %s to %s", repoURL, tag, dest)

	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:           repoURL,
		ReferenceName: plumbing.NewTagReferenceName(tag),
		SingleBranch:  true,
		Depth:         1,
		Progress:      io.Discard,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	// Show what we checked out
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("failed to get HEAD: %w", err)
	}
	log.Infof("checked out commit %s", head.Hash().String())

	return nil
}
