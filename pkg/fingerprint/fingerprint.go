// Package fingerprint derives deterministic content hashes from normalized
// queries. Equal normalized text plus equal context always produce an equal
// token, across processes and concurrent callers; there is no random salt.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"
)

// Normalize canonicalizes query text: trim, lowercase, and collapse internal
// whitespace runs to a single space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// New computes the fingerprint token for a query. Context pairs are folded
// in under a canonical key order so map iteration order never leaks into the
// digest. The full 256-bit digest is kept: accidental collision is negligible
// at any plausible load.
func New(text string, context map[string]string) string {
	h := sha256.New()
	_, _ = io.WriteString(h, Normalize(text))

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			// Unit separators keep ("ab","c") distinct from ("a","bc").
			h.Write([]byte{0x1f})
			_, _ = io.WriteString(h, k)
			h.Write([]byte{0x1e})
			_, _ = io.WriteString(h, context[k])
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
