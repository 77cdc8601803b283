package sqlite

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"

	"github.com/banshee-data/scene.report/internal/scene"
)

// encodeObjects compresses objects using gob encoding and gzip
// compression. Nil entries are dropped.
func encodeObjects(objects []*scene.Object) ([]byte, error) {
	kept := make([]*scene.Object, 0, len(objects))
	for _, o := range objects {
		if o != nil {
			kept = append(kept, o)
		}
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(kept); err != nil {
		gz.Close()
		return nil, fmt.Errorf("encode objects: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress objects: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeObjects reverses encodeObjects.
func decodeObjects(blob []byte) ([]*scene.Object, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty objects blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var objects []*scene.Object
	if err := gob.NewDecoder(gz).Decode(&objects); err != nil {
		return nil, fmt.Errorf("failed to decode objects: %w", err)
	}
	return objects, nil
}
