package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/yourusername/wallcache-go/internal/app"
)

// readManifest loads a fetch request from path, or stdin when path is "-".
// Both {"items": [...], "concurrency": n} and a bare item array are accepted.
func readManifest(path string) (app.FetchRequest, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return app.FetchRequest{}, fmt.Errorf("failed to open manifest: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return app.FetchRequest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	return parseManifest(data)
}

func parseManifest(data []byte) (app.FetchRequest, error) {
	var req app.FetchRequest

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &req.Items); err != nil {
			return app.FetchRequest{}, fmt.Errorf("invalid manifest: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, &req); err != nil {
		return app.FetchRequest{}, fmt.Errorf("invalid manifest: %w", err)
	}

	if err := req.Validate(); err != nil {
		return app.FetchRequest{}, fmt.Errorf("invalid manifest: %w", err)
	}
	return req, nil
}
