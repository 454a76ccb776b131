package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"imageq/internal/logger"
	"imageq/internal/metrics"
	"imageq/internal/upload"
)

// multipartOverhead is allowed on top of the file limit for boundaries and
// part headers.
const multipartOverhead = 64 * 1024

// Submitter accepts uploaded images.
type Submitter interface {
	Submit(ctx context.Context, filename, contentType string, data []byte) (upload.Result, error)
}

// UploadHandler handles image uploads via multipart form
type UploadHandler struct {
	svc Submitter

	// Max file size (default 20MB)
	maxFileSize int64
}

// UploadConfig holds configuration for the upload handler
type UploadConfig struct {
	Service     Submitter
	MaxFileSize int64
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(cfg UploadConfig) *UploadHandler {
	maxFileSize := cfg.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = 20 * 1024 * 1024
	}
	return &UploadHandler{svc: cfg.Service, maxFileSize: maxFileSize}
}

// UploadResponse is returned for an accepted upload
type UploadResponse struct {
	Message    string `json:"message"`
	ObjectName string `json:"object_name"`
}

// ErrorResponse carries a failure description
type ErrorResponse struct {
	Detail string `json:"detail"`
}

var (
	errNotImage  = errors.New("file must be an image")
	errEmptyFile = errors.New("file is empty")
	errNoFile    = errors.New(`multipart field "file" is required`)
	errTooLarge  = errors.New("file too large")
)

// ServeHTTP handles the upload HTTP request
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Detail: "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	filename, contentType, data, err := h.readFile(r)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		status := http.StatusBadRequest
		if errors.Is(err, errTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		WriteJSON(w, status, ErrorResponse{Detail: err.Error()})
		return
	}

	res, err := h.svc.Submit(r.Context(), filename, contentType, data)
	if err != nil {
		lg := logger.WithRequestID(r.Header.Get("X-Request-ID"))
		lg.Error().
			Err(err).
			Str("filename", filename).
			Msg("upload failed")
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
		return
	}

	WriteJSON(w, http.StatusOK, UploadResponse{
		Message:    "Image uploaded and task queued",
		ObjectName: res.ObjectKey,
	})
}

// readFile finds the "file" part and reads it within the size limit.
func (h *UploadHandler) readFile(r *http.Request) (filename, contentType string, data []byte, err error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", "", nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", "", nil, errNoFile
		}
		if err != nil {
			return "", "", nil, classifyReadErr(err)
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		return h.readPart(part)
	}
}

func (h *UploadHandler) readPart(part *multipart.Part) (string, string, []byte, error) {
	defer part.Close()

	contentType := part.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return "", "", nil, errNotImage
	}

	data, err := io.ReadAll(io.LimitReader(part, h.maxFileSize+1))
	if err != nil {
		return "", "", nil, classifyReadErr(err)
	}
	if int64(len(data)) > h.maxFileSize {
		return "", "", nil, errTooLarge
	}
	if len(data) == 0 {
		return "", "", nil, errEmptyFile
	}
	return part.FileName(), contentType, data, nil
}

func classifyReadErr(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errTooLarge
	}
	return err
}

// RootHandler reports that the API is up.
func RootHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Image Processing Queue API",
	})
}

// WriteJSON writes v with the given status. The status is already sent when
// encoding fails, so the failure is only logged.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		lg := logger.WithComponent("http")
		lg.Error().
			Err(err).
			Int("status", status).
			Msg("failed to encode response")
	}
}
