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

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// GCSMirror is a Mirror backed by a Google Cloud Storage bucket/prefix,
// e.g. gs://bucket/prefix.
type GCSMirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSMirror parses a gs://bucket[/prefix] URL and constructs a
// GCSMirror against it.
func NewGCSMirror(ctx context.Context, gsURL string) (*GCSMirror, error) {
	bucket, prefix, err := parseGSURL(gsURL)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return &GCSMirror{client: client, bucket: bucket, prefix: prefix}, nil
}

func parseGSURL(gsURL string) (bucket, prefix string, err error) {
	const schemePrefix = "gs://"
	if len(gsURL) <= len(schemePrefix) || gsURL[:len(schemePrefix)] != schemePrefix {
		return "", "", fmt.Errorf("invalid gs:// URL: %q", gsURL)
	}
	rest := gsURL[len(schemePrefix):]
	idx := -1
	for i, c := range rest {
		if c == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return rest, "", nil
	}
	return rest[:idx], rest[idx+1:], nil
}

func (m *GCSMirror) object(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Download implements Mirror.
func (m *GCSMirror) Download(ctx context.Context, name, localPath string) (bool, error) {
	obj := m.client.Bucket(m.bucket).Object(m.object(name))
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("opening gs://%s/%s: %w", m.bucket, m.object(name), err)
	}
	defer r.Close()

	tmpPath := localPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return false, fmt.Errorf("creating local cache directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return false, fmt.Errorf("creating %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return false, fmt.Errorf("downloading gs://%s/%s: %w", m.bucket, m.object(name), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return false, fmt.Errorf("publishing downloaded cache entry: %w", err)
	}
	return true, nil
}

// Upload implements Mirror.
func (m *GCSMirror) Upload(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	obj := m.client.Bucket(m.bucket).Object(m.object(name))
	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("uploading gs://%s/%s: %w", m.bucket, m.object(name), err)
	}
	return w.Close()
}

// Close releases the underlying GCS client.
func (m *GCSMirror) Close() error {
	return m.client.Close()
}
