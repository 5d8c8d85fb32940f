package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"laneguard/internal/domain"
)

// DigestBytes returns the hex SHA-256 of raw artifact bytes.
func DigestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DedupeSort removes duplicate paths and sorts pins lexicographically by
// path. Duplicate pins for the same path collapse to the first occurrence.
func DedupeSort(pins []domain.Pin) []domain.Pin {
	seen := map[string]bool{}
	out := make([]domain.Pin, 0, len(pins))
	for _, p := range pins {
		if seen[p.Path] {
			continue
		}
		seen[p.Path] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// HashPins computes the aggregate bundle hash over sorted, deduplicated
// pins: H("path\n" + sha256 + "\n---\n" per pin). Sorting and dedup make
// the hash independent of discovery order and of inputs shared between
// repos.
func HashPins(pins []domain.Pin) string {
	h := sha256.New()
	for _, p := range DedupeSort(pins) {
		h.Write([]byte(p.Path))
		h.Write([]byte("\n"))
		h.Write([]byte(p.SHA256))
		h.Write([]byte("\n---\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
