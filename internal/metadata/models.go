// Package metadata persists one record per successfully ingested PDF.
package metadata

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound       = errors.New("document metadata not found")
	ErrInvalidRecord  = errors.New("invalid document metadata")
	ErrStoreUnhealthy = errors.New("metadata store unreachable")
)

// Document links an uploaded file to the vector collection that holds its chunks.
type Document struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	OriginalFilename string             `bson:"original_filename" json:"originalFilename"`
	CollectionName   string             `bson:"collection_name" json:"collectionName"`
	UploadTime       time.Time          `bson:"upload_time" json:"uploadTime"`
	Chunks           int                `bson:"chunks" json:"chunks"`
	Pages            int                `bson:"pages" json:"pages"`
	FilePath         string             `bson:"file_path" json:"filePath"`
	UserID           string             `bson:"user_id" json:"userId"`
	JobID            string             `bson:"job_id,omitempty" json:"jobId,omitempty"`
}

// Validate checks the fields every record must carry.
func (d *Document) Validate() error {
	switch {
	case d.CollectionName == "":
		return fmt.Errorf("%w: collection name is empty", ErrInvalidRecord)
	case d.UserID == "":
		return fmt.Errorf("%w: user id is empty", ErrInvalidRecord)
	case d.OriginalFilename == "":
		return fmt.Errorf("%w: original filename is empty", ErrInvalidRecord)
	case d.Chunks < 1:
		return fmt.Errorf("%w: chunk count must be positive, got %d", ErrInvalidRecord, d.Chunks)
	case d.UploadTime.IsZero():
		return fmt.Errorf("%w: upload time is zero", ErrInvalidRecord)
	}
	return nil
}
