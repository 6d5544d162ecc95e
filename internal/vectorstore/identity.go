package vectorstore

import (
	"fmt"

	"github.com/google/uuid"
)

// PointID derives the deterministic, content-addressed identity of a chunk:
// a name-based (SHA-1, version 5) UUID over the concatenated key fields.
//
// Identical inputs always yield the identical identifier, across calls and
// process restarts, so re-upserting unchanged content overwrites the same
// record. Changing any single field — including the content hash after a
// document edit — yields a different identifier; the record under the old
// identifier becomes orphaned and is not cleaned up here.
func PointID(docID string, page, chunkIdx int, sha256 string) string {
	name := fmt.Sprintf("%s_%d_%d_%s", docID, page, chunkIdx, sha256)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}
