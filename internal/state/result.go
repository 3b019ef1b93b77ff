// internal/state/result.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/remixsync/internal/types"
)

// resultWrapper is the on-disk format for saved remixes.
type resultWrapper struct {
	Meta     *types.ResultMeta `json:"meta"`
	Document types.Document    `json:"document"`
}

// ResultStore saves finished remixes as individual JSON files.
// Files are located at sessions/<sessionID>/results/<resultID>.json.
type ResultStore struct {
	root string
}

// NewResultStore creates a new file-backed ResultStore rooted at the given directory.
func NewResultStore(root string) *ResultStore {
	return &ResultStore{root: root}
}

func (r *ResultStore) resultsDir(sessionID types.SessionID) string {
	return filepath.Join(r.root, "sessions", string(sessionID), "results")
}

func (r *ResultStore) resultPath(sessionID types.SessionID, id types.ResultID) string {
	return filepath.Join(r.resultsDir(sessionID), string(id)+".json")
}

// findResult locates a result file by ID across all sessions.
func (r *ResultStore) findResult(id types.ResultID) (string, error) {
	pattern := filepath.Join(r.root, "sessions", "*", "results", string(id)+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob result: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	return matches[0], nil
}

func (r *ResultStore) readWrapper(path string) (*resultWrapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}

	var wrapper resultWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &wrapper, nil
}

// Save writes doc as a new result of the session and returns a file:// URL
// pointing at it.
func (r *ResultStore) Save(_ context.Context, sessionID types.SessionID, doc types.Document) (string, error) {
	id := types.NewResultID()
	meta := &types.ResultMeta{
		ID:        id,
		SessionID: sessionID,
		Version:   doc.Version,
		Clips:     len(doc.Timeline),
		Filters:   doc.FilterNames(),
		CreatedAt: time.Now(),
	}

	content, err := json.MarshalIndent(&resultWrapper{Meta: meta, Document: doc.Clone()}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}

	if err := os.MkdirAll(r.resultsDir(sessionID), 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	// Atomic write via temp file + rename
	target := r.resultPath(sessionID, id)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", fmt.Errorf("write temp result: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename temp result: %w", err)
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// Get returns the saved Document for the given result.
func (r *ResultStore) Get(_ context.Context, id types.ResultID) (types.Document, error) {
	path, err := r.findResult(id)
	if err != nil {
		return types.Document{}, err
	}
	wrapper, err := r.readWrapper(path)
	if err != nil {
		return types.Document{}, err
	}
	return wrapper.Document, nil
}

// GetMeta returns the metadata for the given result.
func (r *ResultStore) GetMeta(_ context.Context, id types.ResultID) (*types.ResultMeta, error) {
	path, err := r.findResult(id)
	if err != nil {
		return nil, err
	}
	wrapper, err := r.readWrapper(path)
	if err != nil {
		return nil, err
	}
	return wrapper.Meta, nil
}

// List returns the metadata of every result saved for the session.
func (r *ResultStore) List(_ context.Context, sessionID types.SessionID) ([]*types.ResultMeta, error) {
	matches, err := filepath.Glob(filepath.Join(r.resultsDir(sessionID), "*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob results: %w", err)
	}
	metas := make([]*types.ResultMeta, 0, len(matches))
	for _, path := range matches {
		wrapper, err := r.readWrapper(path)
		if err != nil {
			return nil, err
		}
		metas = append(metas, wrapper.Meta)
	}
	return metas, nil
}
