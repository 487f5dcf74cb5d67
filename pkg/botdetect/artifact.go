package botdetect

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"tzlogs/pkg/failures"
	"tzlogs/pkg/storage"
)

const ArtifactVersion uint16 = 1

var artifactMagic = [4]byte{'T', 'Z', 'B', 'M'}

// ErrArtifactVersion is returned when a stored artifact has another format version.
var ErrArtifactVersion = errors.New("model artifact version mismatch")

// Encode writes the model with its magic and version header.
func Encode(w io.Writer, m *Model) error {
	if _, err := w.Write(artifactMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, ArtifactVersion); err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(m)
}

// Decode reads a model written by Encode.
func Decode(r io.Reader) (*Model, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("couldn't read artifact header: %w", err)
	}
	if magic != artifactMagic {
		return nil, errors.New("not a model artifact")
	}

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("couldn't read artifact version: %w", err)
	}
	if version != ArtifactVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrArtifactVersion, version, ArtifactVersion)
	}

	var m Model
	if err := gob.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("couldn't decode model: %w", err)
	}
	return &m, nil
}

// Save writes the artifact atomically so readers never see a partial file.
func Save(path string, m *Model) error {
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		return failures.Wrap(failures.KindStorage, "botdetect.Save", err)
	}
	if err := storage.WriteAtomic(path, buf.Bytes()); err != nil {
		return failures.Wrap(failures.KindStorage, "botdetect.Save", err)
	}
	return nil
}

// Load reads the artifact at path. A missing or unreadable artifact is model_missing.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, failures.Newf(failures.KindModelMissing, "botdetect.Load", "no model at %s", path)
	}
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "botdetect.Load", err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, failures.Wrap(failures.KindModelMissing, "botdetect.Load", err)
	}
	return m, nil
}
