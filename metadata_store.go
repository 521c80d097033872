package hybridsearch

import (
	"os"
	"path/filepath"

	goccy "github.com/goccy/go-json"
)

const metadataSidecarFile = "hybrid.meta.json"

// metadataSidecarVersion is bumped whenever the sidecar's shape changes in a
// way Load must reject rather than silently misinterpret.
const metadataSidecarVersion = 1

// indexMetadata is the JSON sidecar persisted at <dir>/hybrid.meta.json. It
// records everything Load needs to reconstruct engines and reject a
// mismatched caller codec before touching the larger index files.
type indexMetadata struct {
	Version            int       `json:"version"`
	EmbeddingDimension int       `json:"embeddingDimension"`
	DistanceKind       string    `json:"distanceType"`
	ANNConfig          annConfig `json:"hnswConfig"`
	NextDocID          uint64    `json:"nextDocId"`
	PrimaryIDField     string    `json:"primaryIdField"`
	SchemaFingerprint  string    `json:"schemaFingerprint"`
}

// sidecarPath returns the metadata sidecar's path within dir.
func sidecarPath(dir string) string {
	return filepath.Join(dir, metadataSidecarFile)
}

// writeMetadata atomically writes meta to <dir>/hybrid.meta.json via a
// temp-file-then-rename, so a crash mid-write never leaves a half-written
// sidecar for the next Load to trip over.
func writeMetadata(dir string, meta indexMetadata) error {
	meta.Version = metadataSidecarVersion

	data, err := goccy.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "hybrid.meta-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, sidecarPath(dir))
}

// readMetadata loads the sidecar from dir. It returns ErrMetadataMissing if
// the file doesn't exist and ErrMetadataCorrupt if it exists but fails to
// parse or carries a version other than metadataSidecarVersion.
func readMetadata(dir string) (indexMetadata, error) {
	data, err := os.ReadFile(sidecarPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return indexMetadata{}, ErrMetadataMissing
		}
		return indexMetadata{}, err
	}

	var meta indexMetadata
	if err := goccy.Unmarshal(data, &meta); err != nil {
		return indexMetadata{}, ErrMetadataCorrupt
	}
	if meta.Version != metadataSidecarVersion {
		return indexMetadata{}, ErrMetadataCorrupt
	}
	return meta, nil
}

// metadataExists reports whether a sidecar is already present at dir, used
// by Create to refuse clobbering an existing index.
func metadataExists(dir string) bool {
	_, err := os.Stat(sidecarPath(dir))
	return err == nil
}
