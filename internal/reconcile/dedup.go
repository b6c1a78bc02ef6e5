package reconcile

import (
	"encoding/binary"
	"hash/fnv"
	"strings"
)

// DedupKey hashes (path, line, normalized body) into the key used to
// suppress duplicate postings within and across sessions.
func DedupKey(path string, line int, body string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	h.Write([]byte{0})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(line))
	h.Write(buf[:])
	h.Write([]byte{0})
	h.Write([]byte(normalizeBody(body)))
	return h.Sum64()
}

// normalizeBody collapses whitespace and lowercases, so trivially reworded
// copies of the same comment share a key.
func normalizeBody(body string) string {
	return strings.ToLower(strings.Join(strings.Fields(body), " "))
}
