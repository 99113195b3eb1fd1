package files

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/observability"
	"github.com/rosterd/rosterd/pkg/rbac"
)

// Handlers serves the file upload endpoints. The router applies the files
// permission gates.
type Handlers struct {
	store    *Store
	blobs    BlobStore
	maxBytes int64
	logger   *observability.Logger
}

// NewHandlers creates the file handlers.
func NewHandlers(store *Store, blobs BlobStore, maxBytes int64, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, blobs: blobs, maxBytes: maxBytes, logger: logger}
}

// Upload accepts a multipart form with a "file" part and an optional
// department_id field. The blob is written first; the metadata row commits
// only after the upload succeeds.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		httputil.WriteBadRequest(w, "invalid multipart form or file too large")
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "file part is required")
		return
	}
	defer part.Close()

	var departmentID *int64
	if v, err := httputil.ParseQueryInt(r, "department_id", 0); err == nil && v > 0 {
		id := int64(v)
		departmentID = &id
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), header.Filename)

	if err := h.blobs.Put(r.Context(), key, part, contentType); err != nil {
		httputil.GetLogger(r).WithError(err).Error("blob upload failed")
		httputil.WriteInternalError(w, err)
		return
	}

	file := &File{
		Name:         header.Filename,
		ContentType:  contentType,
		SizeBytes:    header.Size,
		StorageKey:   key,
		DepartmentID: departmentID,
		UploadedBy:   actor.UserID,
	}
	if err := h.store.Create(r.Context(), file); err != nil {
		// Best effort: do not leave an orphaned blob behind.
		if delErr := h.blobs.Delete(r.Context(), key); delErr != nil {
			httputil.GetLogger(r).WithError(delErr).Warn("orphaned blob cleanup failed")
		}
		httputil.GetLogger(r).WithError(err).Error("file record creation failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreatedMessage(w, "file uploaded", file)
}

// List returns file metadata newest first.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePageParams(r, 20)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var departmentID *int64
	if v, err := httputil.ParseQueryInt(r, "department_id", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	} else if v > 0 {
		id := int64(v)
		departmentID = &id
	}

	list, total, err := h.store.List(r.Context(), departmentID, page.Limit, page.Offset())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WritePage(w, list, httputil.NewPagination(page.Page, page.Limit, total))
}

// Download streams a stored blob.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	file, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	blob, err := h.blobs.Get(r.Context(), file.StorageKey)
	if err != nil {
		httputil.GetLogger(r).WithError(err).Error("blob download failed")
		httputil.WriteInternalError(w, err)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	if _, err := io.Copy(w, blob); err != nil {
		httputil.GetLogger(r).WithError(err).Warn("blob stream interrupted")
	}
}

// Delete removes a file's blob and metadata.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	file, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.blobs.Delete(r.Context(), file.StorageKey); err != nil {
		httputil.GetLogger(r).WithError(err).Error("blob deletion failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccessMessage(w, "file deleted", nil)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrFileNotFound):
		httputil.WriteNotFound(w, "file not found")
	default:
		httputil.GetLogger(r).WithError(err).Error("file operation failed")
		httputil.WriteInternalError(w, err)
	}
}
