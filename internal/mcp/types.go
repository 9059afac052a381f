// Package mcp exposes ingestion state to MCP clients: job progress and the
// documents a user has indexed.
package mcp

import "time"

// JobStatusInput defines the input parameters for the get_job_status tool.
type JobStatusInput struct {
	// JobID is the id returned by the upload endpoint.
	JobID string `json:"job_id" jsonschema:"the job id returned when the PDF was uploaded"`
}

// JobStatusOutput mirrors the GET /job/:id response.
type JobStatusOutput struct {
	Found       bool   `json:"found"`
	JobID       string `json:"job_id"`
	State       string `json:"state,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Progress    int    `json:"progress"`
	Attempts    int    `json:"attempts,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Error       string `json:"error,omitempty"`
	// CollectionName and ChunkCount are set once the job completes.
	CollectionName string `json:"collection_name,omitempty"`
	ChunkCount     int    `json:"chunk_count,omitempty"`
}

// ListDocumentsInput defines the input parameters for the list_documents tool.
type ListDocumentsInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"the user whose documents to list; defaults to the authenticated user"`
}

// DocumentSummary is one indexed PDF.
type DocumentSummary struct {
	Filename       string    `json:"filename"`
	CollectionName string    `json:"collection_name"`
	UploadedAt     time.Time `json:"uploaded_at"`
	Pages          int       `json:"pages"`
	Chunks         int       `json:"chunks"`
	// PointsCount is the live count in the vector store; -1 if it could not be read.
	PointsCount int64  `json:"points_count"`
	Status      string `json:"status,omitempty"`
}

// ListDocumentsOutput contains the user's documents, newest first.
type ListDocumentsOutput struct {
	Documents []DocumentSummary `json:"documents"`
	Count     int               `json:"count"`
	Message   string            `json:"message,omitempty"`
}

// GetDocumentInput defines the input parameters for the get_document tool.
type GetDocumentInput struct {
	UserID         string `json:"user_id,omitempty" jsonschema:"the owner of the document; defaults to the authenticated user"`
	CollectionName string `json:"collection_name" jsonschema:"the collection name from list_documents"`
}

// GetDocumentOutput reports one document and whether its vectors are complete.
type GetDocumentOutput struct {
	Found    bool             `json:"found"`
	Document *DocumentSummary `json:"document,omitempty"`
	// Complete is true when the collection holds one point per recorded chunk.
	Complete bool `json:"complete"`
}
