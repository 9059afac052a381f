package storage

import (
	"strconv"

	"github.com/google/uuid"
)

// ChunkPoint is one embedded chunk of an uploaded PDF, stored as a Qdrant point.
type ChunkPoint struct {
	ID        string    // Deterministic UUID, see PointID
	Seq       int       // Position in the document (0, 1, 2...)
	Content   string    // Chunk text
	Page      *int      // 1-based page the chunk starts on; nil when unknown
	Start     int       // Rune offset of the chunk in the joined document text
	End       int       // Exclusive rune offset
	Source    string    // Stored file path
	Filename  string    // Original upload name
	UserID    string    // Owner of the upload
	Embedding []float32 // Vector, length must equal the collection dimension
}

// CollectionInfo contains collection statistics.
type CollectionInfo struct {
	Name        string
	PointsCount uint64
	Status      string
}

// pointIDNamespace scopes deterministic point IDs to this application.
var pointIDNamespace = uuid.MustParse("6f0d8a52-3c1e-4f5b-9a0e-2b7c4d9e1f38")

// PointID derives the point ID for chunk seq of a collection.
// Re-upserting the same chunk overwrites the same point, so retries never duplicate.
func PointID(collectionName string, seq int) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(collectionName+":"+strconv.Itoa(seq))).String()
}
