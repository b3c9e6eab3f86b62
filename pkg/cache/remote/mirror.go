// Copyright 2022 Chainguard, Inc.
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

// Package remote defines an optional read-through/write-behind companion
// to pkg/cache's local, content-addressed cache directory.
package remote

import "context"

// Mirror is a remote, content-addressed cache companion. It is consulted
// by pkg/cache.Store only on a local miss (Download) and only after a
// successful local pack (Upload); every failure is best-effort from the
// caller's perspective.
type Mirror interface {
	// Download fetches name into localPath if the mirror has it,
	// publishing it via the same atomic .tmp-then-rename discipline as a
	// local pack. Returns false, nil on a mirror miss.
	Download(ctx context.Context, name, localPath string) (bool, error)

	// Upload pushes the already-published local cache entry at
	// localPath to the mirror under name.
	Upload(ctx context.Context, name, localPath string) error
}
