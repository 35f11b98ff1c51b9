package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"
)

// crc32Table is precomputed for the IEEE polynomial
var crc32Table = crc32.MakeTable(crc32.IEEE)

// entry is the persisted form of one collection
type entry struct {
	Value     json.RawMessage `json:"value"`
	Checksum  uint32          `json:"checksum"`
	WrittenAt time.Time       `json:"written_at"`
}

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// encodeEntry wraps a document in a checksummed envelope. The document is
// stored compacted, which is also the form the checksum covers.
func encodeEntry(value json.RawMessage, now time.Time) ([]byte, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, value); err != nil {
		return nil, fmt.Errorf("value is not valid JSON: %w", err)
	}

	data, err := json.Marshal(entry{
		Value:     compact.Bytes(),
		Checksum:  checksum(compact.Bytes()),
		WrittenAt: now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}
	return data, nil
}

// decodeEntry unwraps an envelope, rejecting anything malformed or corrupted
func decodeEntry(data []byte) (json.RawMessage, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	if len(e.Value) == 0 {
		return nil, fmt.Errorf("entry has no value")
	}
	if actual := checksum(e.Value); actual != e.Checksum {
		return nil, fmt.Errorf("checksum validation failed: expected %d, got %d", e.Checksum, actual)
	}
	return e.Value, nil
}
