// Package hash produces deterministic SHA-256 digests of records. Two
// serializations of the same logical record always hash identically: map
// keys are sorted, floats are rounded, datetimes are normalized to UTC, and
// null values are dropped so an explicit null equals an absent field.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
)

// floatPrecision is the decimal precision floats are rounded to before
// serialization, absorbing representation noise from upstream parsers.
const floatPrecision = 6

// Pair carries the two digests computed per row.
type Pair struct {
	// BusinessKeyHash identifies the row across runs, computed over the
	// business-key columns only.
	BusinessKeyHash string
	// RowHash fingerprints the full row content for change detection.
	RowHash string
}

// Record hashes a full record.
func Record(rec models.Record) (string, error) {
	return digest(map[string]interface{}(rec))
}

// BusinessKey hashes the business-key projection of a record.
func BusinessKey(rec models.Record, keyColumns []string) (string, error) {
	return digest(map[string]interface{}(rec.Subset(keyColumns)))
}

// RecordPair computes both digests for one record.
func RecordPair(rec models.Record, keyColumns []string) (Pair, error) {
	keyHash, err := BusinessKey(rec, keyColumns)
	if err != nil {
		return Pair{}, err
	}
	rowHash, err := Record(rec)
	if err != nil {
		return Pair{}, err
	}
	return Pair{BusinessKeyHash: keyHash, RowHash: rowHash}, nil
}

// Bytes hashes raw content, used for artifact checksums.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func digest(m map[string]interface{}) (string, error) {
	canonical, err := Canonicalize(m)
	if err != nil {
		return "", err
	}
	return Bytes(canonical), nil
}

// Canonicalize serializes a value into its canonical JSON form. goccy/go-json
// emits object keys in sorted order for map[string]interface{}, which
// together with normalize makes the output byte-stable.
func Canonicalize(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to serialize canonical form")
	}
	return out, nil
}

// normalize rewrites a value tree into canonical shape: nulls dropped from
// objects, floats rounded, times in UTC ISO-8601.
func normalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil

	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for _, key := range sortedKeys(t) {
			if t[key] == nil {
				continue
			}
			norm, err := normalize(t[key])
			if err != nil {
				return nil, err
			}
			if norm == nil {
				continue
			}
			out[key] = norm
		}
		return out, nil

	case models.Record:
		return normalize(map[string]interface{}(t))

	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, item := range t {
			norm, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, norm)
		}
		return out, nil

	case float64:
		return roundFloat(t), nil
	case float32:
		return roundFloat(float64(t)), nil

	case time.Time:
		return t.UTC().Format(time.RFC3339), nil

	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t, nil

	default:
		return nil, errors.Newf(errors.ErrorTypeData, "cannot canonicalize value of type %T", v)
	}
}

func roundFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	shift := math.Pow10(floatPrecision)
	return math.Round(f*shift) / shift
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
