package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ignite/leadgen-site/internal/auth"
	"github.com/ignite/leadgen-site/internal/datanorm"
	"github.com/ignite/leadgen-site/internal/pkg/httputil"
	"github.com/ignite/leadgen-site/internal/pkg/logger"
	"github.com/ignite/leadgen-site/internal/storage"
)

const archiveTimeout = 30 * time.Second

// UploadResponse is the body of a successful pricing upload.
type UploadResponse struct {
	Success   bool                `json:"success"`
	Count     int                 `json:"count"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Skipped   int                 `json:"skipped"`
	Rejected  []datanorm.RowError `json:"rejected,omitempty"`
}

// missingHeadersResponse carries the header lists at the top level so the
// uploader can fix the sheet.
type missingHeadersResponse struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Missing  []string `json:"missing"`
	Expected []string `json:"expected"`
	Detected []string `json:"detected"`
}

// UploadPricing ingests the spreadsheet in the multipart field "file".
//
//	POST /api/pricing/upload
func (h *Handlers) UploadPricing(w http.ResponseWriter, r *http.Request) {
	limit := h.config.Ingest.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.ErrorWithCode(w, http.StatusRequestEntityTooLarge, "file too large", "file_too_large", nil)
			return
		}
		httputil.ErrorWithCode(w, http.StatusBadRequest, "no file uploaded", "no_file", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.ErrorWithCode(w, http.StatusBadRequest, "no file uploaded", "no_file", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondSafeError(w, h.config, http.StatusInternalServerError, err)
		return
	}
	if len(data) == 0 {
		httputil.ErrorWithCode(w, http.StatusBadRequest, "uploaded file is empty", "no_file", nil)
		return
	}

	report, err := h.ingester.Ingest(r.Context(), header.Filename, data)
	if err != nil {
		h.respondIngestError(w, err)
		return
	}

	uploadedBy := ""
	if p := auth.ProfileFrom(r.Context()); p != nil {
		uploadedBy = p.Email
	}
	logger.Info("pricing upload stored",
		"file", header.Filename, "count", report.Count, "skipped", report.Skipped,
		"rejected", len(report.Rejected), "by", uploadedBy)

	h.archiveAsync(header.Filename, data, uploadedBy)

	httputil.OK(w, UploadResponse{
		Success:   true,
		Count:     report.Count,
		UpdatedAt: report.UpdatedAt,
		Skipped:   report.Skipped,
		Rejected:  report.Rejected,
	})
}

func (h *Handlers) respondIngestError(w http.ResponseWriter, err error) {
	var (
		headersErr  *datanorm.MissingHeadersError
		segmentErr  *datanorm.MissingHeaderError
		rejectedErr *datanorm.RejectedRowsError
	)

	switch {
	case errors.As(err, &headersErr):
		httputil.JSON(w, http.StatusBadRequest, missingHeadersResponse{
			Error:    headersErr.Error(),
			Code:     "missing_headers",
			Missing:  headersErr.Missing,
			Expected: headersErr.Expected,
			Detected: headersErr.Detected,
		})
	case errors.As(err, &segmentErr):
		httputil.ErrorWithCode(w, http.StatusBadRequest, segmentErr.Error(), "missing_segment",
			map[string][]string{"missing": {segmentErr.Header}})
	case errors.As(err, &rejectedErr):
		httputil.ErrorWithCode(w, http.StatusBadRequest, rejectedErr.Error(), "rejected_rows",
			map[string][]datanorm.RowError{"rows": rejectedErr.Rows})
	case errors.Is(err, datanorm.ErrNoSheets):
		httputil.ErrorWithCode(w, http.StatusBadRequest, err.Error(), "no_sheets", nil)
	case errors.Is(err, datanorm.ErrNoDataFound):
		httputil.ErrorWithCode(w, http.StatusBadRequest, err.Error(), "no_data", nil)
	case errors.Is(err, datanorm.ErrUnsupportedFormat):
		httputil.ErrorWithCode(w, http.StatusBadRequest, err.Error(), "unsupported_format", nil)
	case errors.Is(err, datanorm.ErrUnreadableFile):
		httputil.ErrorWithCode(w, http.StatusBadRequest, datanorm.ErrUnreadableFile.Error(), "unreadable_file", nil)
	case errors.Is(err, datanorm.ErrTooManyRows):
		httputil.ErrorWithCode(w, http.StatusBadRequest, err.Error(), "too_many_rows", nil)
	case errors.Is(err, storage.ErrUploadInProgress):
		httputil.ErrorWithCode(w, http.StatusConflict, storage.ErrUploadInProgress.Error(), "upload_in_progress", nil)
	default:
		respondSafeError(w, h.config, http.StatusInternalServerError, err)
	}
}

// archiveAsync copies the upload to S3 without holding the response.
func (h *Handlers) archiveAsync(filename string, data []byte, uploadedBy string) {
	if h.archiver == nil {
		return
	}
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()

		key, err := h.archiver.Archive(ctx, filename, data, uploadedBy)
		if err != nil {
			logger.Warn("upload archive failed", "file", filename, "error", err)
			return
		}
		logger.Debug("upload archived", "file", filename, "key", key)
	}()
}

// ListPricing returns the stored catalog.
//
//	GET /api/pricing
func (h *Handlers) ListPricing(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalog.ListPricing(r.Context())
	if err != nil {
		respondSafeError(w, h.config, http.StatusInternalServerError, err)
		return
	}
	httputil.OK(w, cat)
}
