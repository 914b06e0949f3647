package domain

import (
	"sort"
	"time"
)

// CurrentFormatVersion is the index format written by this build.
// Version 1 was the legacy one-descriptor-per-item layout.
const CurrentFormatVersion uint32 = 2

// LocalMetadataEntry describes one previously fetched picture
type LocalMetadataEntry struct {
	Key             string `json:"key" codec:"k"`
	Title           string `json:"title" codec:"t"`
	Attribution     string `json:"attribution" codec:"a"`
	AttributionLink string `json:"attribution_link" codec:"al"`
	SourceBaseURL   string `json:"source_base_url" codec:"u"`
	LocalFilePath   string `json:"local_file_path" codec:"p"`
}

// Index is the consolidated record of every locally known entry
type Index struct {
	FormatVersion uint32                        `json:"format_version"`
	LastUpdated   time.Time                     `json:"last_updated"`
	Entries       map[string]LocalMetadataEntry `json:"entries"`
}

// NewIndex returns an empty index at the current format version
func NewIndex() Index {
	return Index{
		FormatVersion: CurrentFormatVersion,
		Entries:       make(map[string]LocalMetadataEntry),
	}
}

// Clone returns a copy whose entry map can be mutated independently
func (idx Index) Clone() Index {
	entries := make(map[string]LocalMetadataEntry, len(idx.Entries))
	for k, v := range idx.Entries {
		entries[k] = v
	}
	idx.Entries = entries
	return idx
}

// Len returns the number of entries
func (idx Index) Len() int {
	return len(idx.Entries)
}

// Sorted returns entries ordered descending by key, newest date-derived key first
func (idx Index) Sorted() []LocalMetadataEntry {
	out := make([]LocalMetadataEntry, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key > out[j].Key
	})
	return out
}
