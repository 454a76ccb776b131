package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imageq/internal/upload"
)

type fakeSubmitter struct {
	err         error
	filename    string
	contentType string
	data        []byte
	calls       int
}

func (s *fakeSubmitter) Submit(_ context.Context, filename, contentType string, data []byte) (upload.Result, error) {
	s.calls++
	s.filename, s.contentType, s.data = filename, contentType, data
	if s.err != nil {
		return upload.Result{}, s.err
	}
	return upload.Result{ObjectKey: "1700000000_0123456789ab_" + filename}, nil
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, h http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadAccepted(t *testing.T) {
	svc := &fakeSubmitter{}
	h := NewUploadHandler(UploadConfig{Service: svc, MaxFileSize: 1024})

	body, ct := multipartBody(t, "file", "cat.png", "image/png", []byte("png-bytes"))
	rec := doUpload(t, h, body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "1700000000_0123456789ab_cat.png", resp.ObjectName)
	assert.NotEmpty(t, resp.Message)

	assert.Equal(t, "cat.png", svc.filename)
	assert.Equal(t, "image/png", svc.contentType)
	assert.Equal(t, []byte("png-bytes"), svc.data)
}

func TestUploadRejected(t *testing.T) {
	tests := []struct {
		name        string
		field       string
		contentType string
		data        []byte
		wantStatus  int
	}{
		{"not an image", "file", "text/plain", []byte("hello"), http.StatusBadRequest},
		{"empty file", "file", "image/jpeg", nil, http.StatusBadRequest},
		{"wrong field", "upload", "image/png", []byte("x"), http.StatusBadRequest},
		{"too large", "file", "image/png", bytes.Repeat([]byte("x"), 2048), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeSubmitter{}
			h := NewUploadHandler(UploadConfig{Service: svc, MaxFileSize: 1024})

			body, ct := multipartBody(t, tt.field, "f.bin", tt.contentType, tt.data)
			rec := doUpload(t, h, body, ct)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Detail)
			assert.Equal(t, 0, svc.calls)
		})
	}
}

func TestUploadNotMultipart(t *testing.T) {
	h := NewUploadHandler(UploadConfig{Service: &fakeSubmitter{}})
	rec := doUpload(t, h, bytes.NewBufferString(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadMethodNotAllowed(t *testing.T) {
	h := NewUploadHandler(UploadConfig{Service: &fakeSubmitter{}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUploadServiceFailure(t *testing.T) {
	for _, sentinel := range []error{upload.ErrStore, upload.ErrPublish} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			svc := &fakeSubmitter{err: fmt.Errorf("%w: %w", sentinel, errors.New("connection refused"))}
			h := NewUploadHandler(UploadConfig{Service: svc})

			body, ct := multipartBody(t, "file", "cat.png", "image/png", []byte("x"))
			rec := doUpload(t, h, body, ct)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Contains(t, resp.Detail, sentinel.Error())
		})
	}
}

func TestRootHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	RootHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "Image Processing Queue API", resp["message"])
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Body.String())
}
