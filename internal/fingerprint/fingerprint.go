// Package fingerprint derives the cache keys used by the response cache.
//
// A fingerprint is the SHA-256 digest of the request text followed by a
// canonical encoding of the extra arguments. The encoding sorts argument keys,
// so two argument maps holding the same pairs always produce the same key no
// matter how they were built.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Size is the length of a fingerprint in bytes.
const Size = sha256.Size

// Fingerprint is a fixed-length, content-derived cache key.
type Fingerprint [Size]byte

// String returns the hex encoding of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, for logs.
func (f Fingerprint) Short() string {
	return f.String()[:12]
}

// Compute returns the fingerprint of text and extra.
//
// The payload is text, a newline, then the extra arguments as a compact JSON
// object with sorted keys. JSON escapes every newline, so the last newline in
// the payload always marks the boundary between the two parts.
func Compute(text string, extra map[string]string) Fingerprint {
	var b strings.Builder
	b.Grow(len(text) + 2 + 16*len(extra))
	b.WriteString(text)
	b.WriteByte('\n')
	writeArgs(&b, extra)
	return sha256.Sum256([]byte(b.String()))
}

// TextDigest returns the digest of text alone. Entries are indexed by it so a
// comparison view can find the latest result for a text regardless of the
// extra arguments it was produced with.
func TextDigest(text string) Fingerprint {
	return sha256.Sum256([]byte(text))
}

// CanonicalArgs returns the canonical encoding used inside Compute.
func CanonicalArgs(extra map[string]string) string {
	var b strings.Builder
	writeArgs(&b, extra)
	return b.String()
}

func writeArgs(b *strings.Builder, extra map[string]string) {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(b, k)
		b.WriteByte(':')
		writeJSONString(b, extra[k])
	}
	b.WriteByte('}')
}

func writeJSONString(b *strings.Builder, s string) {
	// Marshal of a string cannot fail.
	data, _ := json.Marshal(s)
	b.Write(data)
}
