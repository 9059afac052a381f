package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/pdfchat/internal/jobs"
	"github.com/bull/pdfchat/internal/metadata"
	"github.com/bull/pdfchat/internal/storage"
)

// JobStatusReader looks up a job by id.
type JobStatusReader interface {
	Get(ctx context.Context, id string) (*jobs.JobStatus, error)
}

// DocumentReader is the read side of the metadata store.
type DocumentReader interface {
	ListByUser(ctx context.Context, userID string) ([]metadata.Document, error)
	FindByCollection(ctx context.Context, userID, collectionName string) (*metadata.Document, error)
}

// CollectionInspector reads live collection stats from the vector store.
type CollectionInspector interface {
	GetCollectionInfo(ctx context.Context, name string) (*storage.CollectionInfo, error)
}

// makeJobStatusHandler creates the get_job_status tool handler.
// An unknown id is reported as Found=false rather than as a tool error.
func makeJobStatusHandler(status JobStatusReader) func(
	context.Context, *mcp.CallToolRequest, JobStatusInput,
) (*mcp.CallToolResult, JobStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input JobStatusInput) (
		*mcp.CallToolResult, JobStatusOutput, error,
	) {
		id := strings.TrimSpace(input.JobID)
		st, err := status.Get(ctx, id)
		if err != nil {
			if errors.Is(err, jobs.ErrUnknownJob) {
				return nil, JobStatusOutput{Found: false, JobID: id}, nil
			}
			return nil, JobStatusOutput{}, fmt.Errorf("queue_error: failed to get job status: %w", err)
		}

		out := JobStatusOutput{
			Found:       true,
			JobID:       st.ID,
			State:       string(st.State),
			Stage:       st.Stage,
			Progress:    st.Progress,
			Attempts:    st.Attempts,
			MaxAttempts: st.MaxAttempts,
			Error:       st.Error,
		}
		if st.Result != nil {
			out.CollectionName = st.Result.CollectionName
			out.ChunkCount = st.Result.ChunkCount
		}
		return nil, out, nil
	}
}

// ErrForbiddenUser is returned when an authenticated caller asks for another user's documents.
var ErrForbiddenUser = errors.New("forbidden: token does not grant access to this user")

// callerUser decides which user a document tool acts for. A bearer token pins
// the user and an empty user_id falls back to it. Without a token (stdio, or
// HTTP with no tokens configured) the requested id is used as given.
func callerUser(req *mcp.CallToolRequest, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if req == nil || req.Extra == nil || req.Extra.TokenInfo == nil || req.Extra.TokenInfo.UserID == "" {
		return requested, nil
	}
	owner := req.Extra.TokenInfo.UserID
	if requested != "" && requested != owner {
		return "", fmt.Errorf("%w %q", ErrForbiddenUser, requested)
	}
	return owner, nil
}

// summarize joins a metadata record with its live collection stats.
func summarize(ctx context.Context, collections CollectionInspector, doc metadata.Document) DocumentSummary {
	s := DocumentSummary{
		Filename:       doc.OriginalFilename,
		CollectionName: doc.CollectionName,
		UploadedAt:     doc.UploadTime,
		Pages:          doc.Pages,
		Chunks:         doc.Chunks,
		PointsCount:    -1,
	}
	info, err := collections.GetCollectionInfo(ctx, doc.CollectionName)
	switch {
	case err == nil:
		s.PointsCount = int64(info.PointsCount)
		s.Status = info.Status
	case errors.Is(err, storage.ErrCollectionNotFound):
		s.PointsCount = 0
		s.Status = "missing"
	}
	return s
}

// makeListDocumentsHandler creates the list_documents tool handler.
func makeListDocumentsHandler(docs DocumentReader, collections CollectionInspector) func(
	context.Context, *mcp.CallToolRequest, ListDocumentsInput,
) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (
		*mcp.CallToolResult, ListDocumentsOutput, error,
	) {
		userID, err := callerUser(req, input.UserID)
		if err != nil {
			return nil, ListDocumentsOutput{}, err
		}
		records, err := docs.ListByUser(ctx, userID)
		if err != nil {
			return nil, ListDocumentsOutput{}, fmt.Errorf("metadata_error: failed to list documents: %w", err)
		}

		out := ListDocumentsOutput{Documents: make([]DocumentSummary, 0, len(records))}
		for _, doc := range records {
			out.Documents = append(out.Documents, summarize(ctx, collections, doc))
		}
		out.Count = len(out.Documents)
		if out.Count == 0 {
			out.Message = "No PDFs have been uploaded yet."
		}
		return nil, out, nil
	}
}

// makeGetDocumentHandler creates the get_document tool handler.
func makeGetDocumentHandler(docs DocumentReader, collections CollectionInspector) func(
	context.Context, *mcp.CallToolRequest, GetDocumentInput,
) (*mcp.CallToolResult, GetDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetDocumentInput) (
		*mcp.CallToolResult, GetDocumentOutput, error,
	) {
		userID, err := callerUser(req, input.UserID)
		if err != nil {
			return nil, GetDocumentOutput{}, err
		}
		doc, err := docs.FindByCollection(ctx, userID, strings.TrimSpace(input.CollectionName))
		if err != nil {
			if errors.Is(err, metadata.ErrNotFound) {
				return nil, GetDocumentOutput{Found: false}, nil
			}
			return nil, GetDocumentOutput{}, fmt.Errorf("metadata_error: failed to get document: %w", err)
		}

		s := summarize(ctx, collections, *doc)
		return nil, GetDocumentOutput{
			Found:    true,
			Document: &s,
			Complete: s.PointsCount == int64(doc.Chunks),
		}, nil
	}
}
