package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"
)

// ManifestFileName is the object describing the last publication of a target.
const ManifestFileName = "manifest.json"

// Manifest records what was published for a target and by which run.
type Manifest struct {
	Target      string    `json:"target"`
	Controller  string    `json:"controller"`
	Files       []string  `json:"files"`
	PublishedAt time.Time `json:"publishedAt"`
	ManagedBy   string    `json:"managedBy"`
}

// Store publishes per-target artifacts into one bucket.
type Store struct {
	client *Client
	bucket string
	prefix string
}

// NewStore returns a store writing under prefix in bucket.
func NewStore(client *Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Key returns the object key of a target's file.
func (s *Store) Key(target, name string) string {
	return path.Join(s.prefix, target, name)
}

// Publish uploads files for target and then the manifest. Objects left
// under the target from an earlier publication that are not part of files
// are removed, so the target directory always mirrors the last run.
func (s *Store) Publish(ctx context.Context, target, controller string, files map[string][]byte) (*Manifest, error) {
	if _, err := s.client.EnsureBucket(ctx, s.bucket); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	keep := map[string]bool{s.Key(target, ManifestFileName): true}
	for _, name := range names {
		key := s.Key(target, name)
		if err := s.client.PutObject(ctx, s.bucket, key, files[name], contentType(name)); err != nil {
			return nil, err
		}
		keep[key] = true
	}

	existing, err := s.client.ListKeys(ctx, s.bucket, s.Key(target, "")+"/")
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, key := range existing {
		if !keep[key] {
			stale = append(stale, key)
		}
	}
	if len(stale) > 0 {
		if err := s.client.DeleteKeys(ctx, s.bucket, stale); err != nil {
			return nil, err
		}
	}

	m := &Manifest{
		Target:      target,
		Controller:  controller,
		Files:       names,
		PublishedAt: time.Now().UTC(),
		ManagedBy:   "vmaas",
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := s.client.PutObject(ctx, s.bucket, s.Key(target, ManifestFileName), data, "application/json"); err != nil {
		return nil, err
	}
	return m, nil
}

// Manifest returns the manifest of the last publication of target, or nil
// when nothing was published yet.
func (s *Store) Manifest(ctx context.Context, target string) (*Manifest, error) {
	data, err := s.client.GetObject(ctx, s.bucket, s.Key(target, ManifestFileName))
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest of %s: %w", target, err)
	}
	return &m, nil
}

// contentType guesses the media type of a published file from its name.
func contentType(name string) string {
	switch path.Ext(name) {
	case ".yaml", ".yml":
		return "application/yaml"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
