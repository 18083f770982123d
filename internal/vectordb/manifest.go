package vectordb

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest is the sidecar record persisted next to each index file. It
// captures the embedding model identity and dimension the index was built
// with, so a mismatch is detected on load instead of corrupting searches.
type Manifest struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Count      int    `json:"count"`
}

// Write stores the manifest as JSON at path.
func (m Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}

// ReadManifest loads a manifest from path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshalling manifest %s: %w", path, err)
	}
	if m.Model == "" || m.Dimensions <= 0 {
		return nil, fmt.Errorf("manifest %s is incomplete", path)
	}
	return &m, nil
}
