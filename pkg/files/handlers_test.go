package files

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterd/rosterd/pkg/contextkeys"
	"github.com/rosterd/rosterd/pkg/observability"
	"github.com/rosterd/rosterd/pkg/rbac"
)

// memBlobStore keeps blobs in a map so handler tests run without object
// storage.
type memBlobStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	putErr error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: map[string][]byte{}}
}

func (m *memBlobStore) Put(_ context.Context, key string, content io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return nil
}

func (m *memBlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *memBlobStore) HealthCheck(context.Context) error { return nil }

func newTestRouter(t *testing.T) (*mux.Router, sqlmock.Sqlmock, *memBlobStore) {
	t.Helper()
	store, mock := newMockStore(t)
	blobs := newMemBlobStore()
	h := NewHandlers(store, blobs, 1<<20, observability.NewLogger(observability.ErrorLevel, io.Discard))

	router := mux.NewRouter()
	router.HandleFunc("/files", h.Upload).Methods(http.MethodPost)
	router.HandleFunc("/files", h.List).Methods(http.MethodGet)
	router.HandleFunc("/files/{id:[0-9]+}", h.Download).Methods(http.MethodGet)
	router.HandleFunc("/files/{id:[0-9]+}", h.Delete).Methods(http.MethodDelete)
	return router, mock, blobs
}

func uploaderActor() *rbac.Actor {
	return &rbac.Actor{UserID: 7, Roles: []rbac.Role{rbac.RoleEmployee}}
}

func multipartBody(t *testing.T, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func doUpload(t *testing.T, router *mux.Router, path, filename, content string, actor *rbac.Actor) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	if actor != nil {
		req = req.WithContext(contextkeys.WithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlersUpload(t *testing.T) {
	t.Run("stores blob then metadata", func(t *testing.T) {
		router, mock, blobs := newTestRouter(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO files")).
			WithArgs("report.pdf", "application/octet-stream", int64(11), sqlmock.AnyArg(), nil, int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(5, time.Now()))

		rec := doUpload(t, router, "/files", "report.pdf", "hello world", uploaderActor())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "file uploaded")
		assert.Len(t, blobs.blobs, 1)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		router, _, _ := newTestRouter(t)
		rec := doUpload(t, router, "/files", "report.pdf", "hello", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing file part", func(t *testing.T) {
		router, _, _ := newTestRouter(t)
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		require.NoError(t, writer.WriteField("department_id", "3"))
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/files", &buf)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req = req.WithContext(contextkeys.WithActor(req.Context(), uploaderActor()))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "file part is required")
	})

	t.Run("metadata failure cleans up the blob", func(t *testing.T) {
		router, mock, blobs := newTestRouter(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO files")).
			WillReturnError(errors.New("down"))

		rec := doUpload(t, router, "/files", "report.pdf", "hello world", uploaderActor())
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, blobs.blobs)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHandlersDownload(t *testing.T) {
	router, mock, blobs := newTestRouter(t)
	require.NoError(t, blobs.Put(context.Background(), "uploads/key/report.pdf",
		bytes.NewReader([]byte("pdf bytes")), "application/pdf"))

	t.Run("streams the blob", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM files WHERE id = $1")).
			WithArgs(int64(5)).
			WillReturnRows(fileRow(&File{
				ID: 5, Name: "report.pdf", ContentType: "application/pdf", SizeBytes: 9,
				StorageKey: "uploads/key/report.pdf", UploadedBy: 7, CreatedAt: time.Now(),
			}))

		req := httptest.NewRequest(http.MethodGet, "/files/5", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="report.pdf"`)
		assert.Equal(t, "pdf bytes", rec.Body.String())
	})

	t.Run("metadata not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM files WHERE id = $1")).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(fileTestColumns))

		req := httptest.NewRequest(http.MethodGet, "/files/99", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlersDelete(t *testing.T) {
	router, mock, blobs := newTestRouter(t)
	require.NoError(t, blobs.Put(context.Background(), "uploads/key/report.pdf",
		bytes.NewReader([]byte("pdf bytes")), "application/pdf"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM files WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(fileRow(&File{
			ID: 5, Name: "report.pdf", ContentType: "application/pdf", SizeBytes: 9,
			StorageKey: "uploads/key/report.pdf", UploadedBy: 7, CreatedAt: time.Now(),
		}))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM files WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodDelete, "/files/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "file deleted")
	assert.Empty(t, blobs.blobs)
	require.NoError(t, mock.ExpectationsWereMet())
}
