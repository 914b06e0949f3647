package infrastructure

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourusername/wallcache-go/internal/domain"
)

// legacyDescriptor is the per-item JSON file written by format version 1
type legacyDescriptor struct {
	Key           string `json:"key"`
	Title         string `json:"title"`
	Copyright     string `json:"copyright"`
	CopyrightLink string `json:"copyright_link"`
	URLBase       string `json:"url_base"`
	FilePath      string `json:"file_path"`
}

// LegacyReader reads the one-descriptor-per-item layout
type LegacyReader struct {
	dir string
}

// NewLegacyReader creates a reader over dir
func NewLegacyReader(dir string) *LegacyReader {
	return &LegacyReader{dir: dir}
}

// Dir returns the legacy descriptor directory
func (r *LegacyReader) Dir() string {
	return r.dir
}

// ReadAll parses every *.json descriptor in the directory. Files that fail
// to parse are returned as *domain.LegacyParseError values and skipped. A
// missing directory is an empty legacy set; an unreadable one is an error.
func (r *LegacyReader) ReadAll() ([]domain.LocalMetadataEntry, []error, error) {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, &domain.FilesystemError{Op: "read dir", Path: r.dir, Err: err}
	}

	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), ".json") {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	var entries []domain.LocalMetadataEntry
	var diagnostics []error
	for _, name := range names {
		path := filepath.Join(r.dir, name)
		entry, err := parseLegacyFile(path)
		if err != nil {
			diagnostics = append(diagnostics, &domain.LegacyParseError{Path: path, Err: err})
			continue
		}
		entries = append(entries, entry)
	}

	return entries, diagnostics, nil
}

func parseLegacyFile(path string) (domain.LocalMetadataEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.LocalMetadataEntry{}, err
	}

	var d legacyDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return domain.LocalMetadataEntry{}, fmt.Errorf("invalid json: %w", err)
	}

	if d.Key == "" {
		d.Key = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if d.Title == "" {
		return domain.LocalMetadataEntry{}, errors.New("missing title")
	}
	if d.FilePath == "" {
		return domain.LocalMetadataEntry{}, errors.New("missing file_path")
	}

	return domain.LocalMetadataEntry{
		Key:             d.Key,
		Title:           d.Title,
		Attribution:     d.Copyright,
		AttributionLink: d.CopyrightLink,
		SourceBaseURL:   d.URLBase,
		LocalFilePath:   d.FilePath,
	}, nil
}
