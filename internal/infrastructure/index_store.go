package infrastructure

import (
	"bytes"
	"errors"
	"os"
	"time"

	"github.com/ugorji/go/codec"

	"github.com/yourusername/wallcache-go/internal/domain"
)

// indexMagic prefixes every index file so foreign or truncated files are
// rejected before decoding
var indexMagic = []byte("WCIX")

var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.Canonical = true
	return h
}()

// wireHeader is decoded first so a version change never reaches the full decode
type wireHeader struct {
	Version uint32 `codec:"v"`
}

type wireIndex struct {
	Version uint32                               `codec:"v"`
	Updated int64                                `codec:"ts"`
	Entries map[string]domain.LocalMetadataEntry `codec:"e"`
}

// IndexStore persists the whole index as a single msgpack file
type IndexStore struct {
	path string
}

// NewIndexStore creates a store backed by the file at path
func NewIndexStore(path string) *IndexStore {
	return &IndexStore{path: path}
}

// Path returns the index file location
func (s *IndexStore) Path() string {
	return s.path
}

// Load reads and decodes the index file. A missing file yields an error
// matching os.ErrNotExist; unusable contents yield *domain.SerializationError.
func (s *IndexStore) Load() (domain.Index, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.Index{}, &domain.FilesystemError{Op: "read", Path: s.path, Err: err}
	}

	idx, err := DecodeIndex(data)
	if err != nil {
		var serr *domain.SerializationError
		if errors.As(err, &serr) {
			serr.Path = s.path
		}
		return domain.Index{}, err
	}
	return idx, nil
}

// Save atomically replaces the index file with idx
func (s *IndexStore) Save(idx domain.Index) error {
	data, err := EncodeIndex(idx)
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.path, data)
}

// EncodeIndex serializes idx into the binary index format
func EncodeIndex(idx domain.Index) ([]byte, error) {
	w := wireIndex{
		Version: idx.FormatVersion,
		Entries: idx.Entries,
	}
	if !idx.LastUpdated.IsZero() {
		w.Updated = idx.LastUpdated.UnixNano()
	}
	if w.Entries == nil {
		w.Entries = map[string]domain.LocalMetadataEntry{}
	}

	buf := bytes.NewBuffer(make([]byte, 0, 256))
	buf.Write(indexMagic)
	if err := codec.NewEncoder(buf, msgpackHandle).Encode(&w); err != nil {
		return nil, &domain.SerializationError{Err: err}
	}
	return buf.Bytes(), nil
}

// DecodeIndex parses the binary index format
func DecodeIndex(data []byte) (domain.Index, error) {
	if !bytes.HasPrefix(data, indexMagic) {
		return domain.Index{}, &domain.SerializationError{Err: errors.New("missing index header")}
	}
	body := data[len(indexMagic):]

	var header wireHeader
	if err := codec.NewDecoderBytes(body, msgpackHandle).Decode(&header); err != nil {
		return domain.Index{}, &domain.SerializationError{Err: err}
	}
	if header.Version != domain.CurrentFormatVersion {
		return domain.Index{}, &domain.SerializationError{VersionMismatch: true, Found: header.Version}
	}

	var w wireIndex
	if err := codec.NewDecoderBytes(body, msgpackHandle).Decode(&w); err != nil {
		return domain.Index{}, &domain.SerializationError{Err: err}
	}

	idx := domain.Index{
		FormatVersion: w.Version,
		Entries:       w.Entries,
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]domain.LocalMetadataEntry)
	}
	if w.Updated != 0 {
		idx.LastUpdated = time.Unix(0, w.Updated)
	}
	return idx, nil
}
