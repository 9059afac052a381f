// Package api is the HTTP surface of the ingestion pipeline: uploads go in as
// queued jobs, and clients poll job state and manage their documents.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bull/pdfchat/internal/health"
	"github.com/bull/pdfchat/internal/jobs"
	"github.com/bull/pdfchat/internal/logger"
	"github.com/bull/pdfchat/internal/metadata"
)

// UploadField is the multipart field holding the PDF.
const UploadField = "pdf"

// JobEnqueuer submits an upload for ingestion.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job jobs.UploadJob) (string, error)
}

// JobStatusReader looks up a job by id.
type JobStatusReader interface {
	Get(ctx context.Context, id string) (*jobs.JobStatus, error)
}

// DocumentStore is the metadata the document endpoints read and delete.
type DocumentStore interface {
	ListByUser(ctx context.Context, userID string) ([]metadata.Document, error)
	FindByCollection(ctx context.Context, userID, collectionName string) (*metadata.Document, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, collectionName string) error
}

// CollectionDeleter drops a document's vector collection.
type CollectionDeleter interface {
	DeleteCollection(ctx context.Context, name string) error
}

// HandlerConfig holds handler dependencies.
type HandlerConfig struct {
	UploadDir      string // made absolute by NewHandler
	MaxUploadBytes int64
	Jobs           JobEnqueuer
	Status         JobStatusReader
	Documents      DocumentStore
	Collections    CollectionDeleter
	Health         map[string]health.Checker
}

type Handler struct {
	uploadDir      string
	maxUploadBytes int64
	jobs           JobEnqueuer
	status         JobStatusReader
	docs           DocumentStore
	collections    CollectionDeleter
	health         map[string]health.Checker
	log            *logger.Logger
}

func NewHandler(cfg HandlerConfig, log *logger.Logger) (*Handler, error) {
	if log == nil {
		log = logger.Nop()
	}
	dir, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir %q: %w", cfg.UploadDir, err)
	}
	return &Handler{
		uploadDir:      dir,
		maxUploadBytes: cfg.MaxUploadBytes,
		jobs:           cfg.Jobs,
		status:         cfg.Status,
		docs:           cfg.Documents,
		collections:    cfg.Collections,
		health:         cfg.Health,
		log:            log.With("component", "APIHandler"),
	}, nil
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// storedName is <epochMs>-<random>-<basename>.
func storedName(now time.Time, original string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	if base == "." || base == ".." || base == "/" {
		base = "upload.pdf"
	}
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), uuid.NewString()[:8], base)
}

// UploadPDF saves the multipart file and enqueues it for ingestion.
func (h *Handler) UploadPDF(c *gin.Context) {
	userID := GetUserID(c)
	if h.maxUploadBytes > 0 {
		// Headroom for the multipart envelope.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}

	file, err := c.FormFile(UploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file uploaded"})
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	now := time.Now()
	dst := filepath.Join(h.uploadDir, storedName(now, file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.log.Error("Failed to save upload", "path", dst, "error", err)
		fail(c, http.StatusInternalServerError, "Failed to process upload")
		return
	}

	info, err := os.Stat(dst)
	if err != nil {
		h.log.Error("File does not exist after upload", "path", dst, "error", err)
		fail(c, http.StatusInternalServerError, "File upload failed - file not found")
		return
	}
	if info.Size() == 0 {
		h.log.Error("File is empty after upload", "path", dst)
		h.removeFile(dst)
		fail(c, http.StatusInternalServerError, "File upload failed - empty file")
		return
	}

	jobID, err := h.jobs.Enqueue(c.Request.Context(), jobs.UploadJob{
		UserID:       userID,
		Filename:     file.Filename,
		Destination:  h.uploadDir,
		Path:         dst,
		UploadedAtMs: now.UnixMilli(),
	})
	if err != nil {
		h.log.Error("Failed to enqueue upload", "path", dst, "error", err)
		h.removeFile(dst)
		fail(c, http.StatusInternalServerError, "Failed to process upload")
		return
	}

	h.log.Info("Upload queued", "job_id", jobID, "path", dst, "size", info.Size())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "PDF uploaded and being processed",
		"jobId":   jobID,
	})
}

type jobStatusResponse struct {
	Success bool `json:"success"`
	*jobs.JobStatus
}

// GetJobStatus is a read-only view of the queue's state for one job.
func (h *Handler) GetJobStatus(c *gin.Context) {
	st, err := h.status.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrUnknownJob) {
			fail(c, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error("Failed to get job status", "job_id", c.Param("id"), "error", err)
		fail(c, http.StatusInternalServerError, "Failed to get job status")
		return
	}
	c.JSON(http.StatusOK, jobStatusResponse{Success: true, JobStatus: st})
}

// ListPDFs returns the caller's documents, newest first.
func (h *Handler) ListPDFs(c *gin.Context) {
	docs, err := h.docs.ListByUser(c.Request.Context(), GetUserID(c))
	if err != nil {
		h.log.Error("Failed to list documents", "error", err)
		fail(c, http.StatusInternalServerError, "Failed to fetch PDF list")
		return
	}
	if docs == nil {
		docs = []metadata.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pdfs": docs})
}

// DeletePDF removes the caller's document record, then its file and collection.
func (h *Handler) DeletePDF(c *gin.Context) {
	ctx := c.Request.Context()
	userID := GetUserID(c)
	name := c.Param("collectionName")

	doc, err := h.docs.FindByCollection(ctx, userID, name)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			fail(c, http.StatusNotFound, "PDF not found or not owned by user")
			return
		}
		h.log.Error("Failed to look up document", "collection", name, "error", err)
		fail(c, http.StatusInternalServerError, "Internal server error while deleting PDF")
		return
	}

	total, err := h.docs.CountByUser(ctx, userID)
	if err != nil {
		h.log.Error("Failed to count documents", "error", err)
		fail(c, http.StatusInternalServerError, "Internal server error while deleting PDF")
		return
	}

	if err := h.docs.Delete(ctx, userID, name); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			fail(c, http.StatusNotFound, "PDF not found or not owned by user")
			return
		}
		h.log.Error("Failed to delete document", "collection", name, "error", err)
		fail(c, http.StatusInternalServerError, "Failed to delete PDF from database")
		return
	}

	// The record is gone; leftovers are picked up by reconcile.
	h.removeFile(doc.FilePath)
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := h.collections.DeleteCollection(cleanupCtx, name); err != nil {
		h.log.Warn("Failed to delete collection", "collection", name, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"message":           "PDF deleted successfully",
		"wasLastPDF":        total == 1,
		"deletedCollection": name,
	})
}

// Health reports Qdrant, MongoDB and Redis reachability.
func (h *Handler) Health(c *gin.Context) {
	resp := health.Check(c.Request.Context(), h.health)
	c.JSON(resp.StatusCode(), resp)
}

func (h *Handler) removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.log.Warn("Failed to remove file", "path", path, "error", err)
	}
}
