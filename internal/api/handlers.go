package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"mdlive/internal/metrics"
	"mdlive/internal/models"
	"mdlive/internal/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const maxUploadBytes = 32 << 20

// Handler serves the content API: the two-step read indirection, the
// multipart write-back and the directory/detail endpoints the viewer uses.
type Handler struct {
	files     FileStore
	libraries LibraryStore
	logger    zerolog.Logger

	// baseURL is the public prefix baked into generated content links.
	baseURL  string
	tokenTTL time.Duration
}

func NewHandler(files FileStore, libraries LibraryStore, logger zerolog.Logger, baseURL string, tokenTTL time.Duration) *Handler {
	return &Handler{
		files:     files,
		libraries: libraries,
		logger:    logger.With().Str("component", "api").Logger(),
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		tokenTTL:  tokenTTL,
	}
}

// CreateLibrary handles POST /api/libraries.
func (h *Handler) CreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	lib, err := h.libraries.Create(r.Context(), req.Name)
	if err != nil {
		h.logger.Error().Err(err).Msg("create library")
		h.respondError(w, http.StatusInternalServerError, "failed to create library")
		return
	}
	h.respondJSON(w, http.StatusCreated, lib)
}

// ListLibraries handles GET /api/libraries.
func (h *Handler) ListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := h.libraries.List(r.Context(), 100, 0)
	if err != nil {
		h.logger.Error().Err(err).Msg("list libraries")
		h.respondError(w, http.StatusInternalServerError, "failed to list libraries")
		return
	}
	h.respondJSON(w, http.StatusOK, libs)
}

// ResolveFileLink handles GET /api/libraries/{id}/file?p=<path>. It answers
// with a JSON string: a tokenized content URL the client fetches next. The
// indirection keeps raw content delivery off the API surface.
func (h *Handler) ResolveFileLink(w http.ResponseWriter, r *http.Request) {
	libID, filePath, ok := h.libraryAndPath(w, r)
	if !ok {
		return
	}

	f, err := h.files.GetByPath(r.Context(), libID, filePath)
	if err != nil {
		h.respondStoreError(w, err, "resolve file link")
		return
	}

	token, err := h.files.CreateAccessToken(r.Context(), models.TokenRead, libID, f.ID, "", h.tokenTTL)
	if err != nil {
		h.logger.Error().Err(err).Msg("create read token")
		h.respondError(w, http.StatusInternalServerError, "failed to create access link")
		return
	}

	link := fmt.Sprintf("%s/files/%s/%s", h.baseURL, token.Token, url.PathEscape(f.Name))
	h.respondJSON(w, http.StatusOK, link)
}

// FileDetail handles GET /api/libraries/{id}/file/detail?p=<path>.
func (h *Handler) FileDetail(w http.ResponseWriter, r *http.Request) {
	libID, filePath, ok := h.libraryAndPath(w, r)
	if !ok {
		return
	}

	f, err := h.files.GetByPath(r.Context(), libID, filePath)
	if err != nil {
		h.respondStoreError(w, err, "file detail")
		return
	}
	h.respondJSON(w, http.StatusOK, f.Detail())
}

// UpdateLink handles GET /api/libraries/{id}/update-link?p=<dir>. The
// returned JSON string is the upload URL for the follow-up multipart POST.
func (h *Handler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	libID := vars["id"]
	if _, err := uuid.Parse(libID); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid library id")
		return
	}
	dir := r.URL.Query().Get("p")
	if dir == "" {
		dir = "/"
	}

	if _, err := h.libraries.GetByID(r.Context(), libID); err != nil {
		h.respondStoreError(w, err, "update link")
		return
	}

	token, err := h.files.CreateAccessToken(r.Context(), models.TokenUpload, libID, "", dir, h.tokenTTL)
	if err != nil {
		h.logger.Error().Err(err).Msg("create upload token")
		h.respondError(w, http.StatusInternalServerError, "failed to create update link")
		return
	}

	h.respondJSON(w, http.StatusOK, fmt.Sprintf("%s/files/upload/%s", h.baseURL, token.Token))
}

// ListDir handles GET /api/libraries/{id}/dir?p=<path>&recursive=1.
func (h *Handler) ListDir(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	libID := vars["id"]
	if _, err := uuid.Parse(libID); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid library id")
		return
	}

	dir := r.URL.Query().Get("p")
	if dir == "" {
		dir = "/"
	}
	recursive := r.URL.Query().Get("recursive") == "1"

	entries, err := h.files.List(r.Context(), libID, dir, recursive)
	if err != nil {
		h.logger.Error().Err(err).Msg("list dir")
		h.respondError(w, http.StatusInternalServerError, "failed to list directory")
		return
	}
	if entries == nil {
		entries = []models.DirEntry{}
	}
	h.respondJSON(w, http.StatusOK, entries)
}

// ServeFileContent handles GET /files/{token}/{name}: the second step of the
// read indirection, answering with the raw document body.
func (h *Handler) ServeFileContent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	token, err := h.files.GetAccessToken(r.Context(), vars["token"])
	if err != nil {
		h.respondTokenError(w, err)
		return
	}
	if token.Kind != models.TokenRead {
		h.respondError(w, http.StatusForbidden, "not a read token")
		return
	}

	f, err := h.files.GetByID(r.Context(), token.FileID)
	if err != nil {
		h.respondStoreError(w, err, "serve content")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, f.Content)
}

// UploadFile handles POST /files/upload/{token}: the multipart write-back.
// Fields mirror the browser client: target_file (absolute path), filename,
// and the file part carrying the content. Last write wins.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	token, err := h.files.GetAccessToken(r.Context(), vars["token"])
	if err != nil {
		h.respondTokenError(w, err)
		return
	}
	if token.Kind != models.TokenUpload {
		h.respondError(w, http.StatusForbidden, "not an upload token")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	targetFile := r.FormValue("target_file")
	filename := r.FormValue("filename")
	if targetFile == "" {
		h.respondError(w, http.StatusBadRequest, "target_file is required")
		return
	}
	if !path.IsAbs(targetFile) || targetFile != path.Clean(targetFile) {
		h.respondError(w, http.StatusBadRequest, "target_file must be a clean absolute path")
		return
	}
	if filename == "" {
		filename = path.Base(targetFile)
	}

	part, _, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer part.Close()

	content, err := io.ReadAll(io.LimitReader(part, maxUploadBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read file part")
		return
	}

	f, err := h.files.Save(r.Context(), token.LibraryID, targetFile, filename, string(content))
	if err != nil {
		metrics.FileSaves.WithLabelValues("error").Inc()
		h.logger.Error().Err(err).Str("path", targetFile).Msg("save file")
		h.respondError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	metrics.FileSaves.WithLabelValues("ok").Inc()

	// Same shape the original upload endpoint answers with: a list of the
	// uploaded files.
	h.respondJSON(w, http.StatusOK, []map[string]any{
		{"name": f.Name, "id": f.ID, "size": f.Size},
	})
}

// libraryAndPath validates the {id} route var and the p query param shared
// by the file endpoints.
func (h *Handler) libraryAndPath(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	vars := mux.Vars(r)
	libID := vars["id"]
	if _, err := uuid.Parse(libID); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid library id")
		return "", "", false
	}

	filePath := r.URL.Query().Get("p")
	if filePath == "" || !path.IsAbs(filePath) {
		h.respondError(w, http.StatusBadRequest, "p must be an absolute file path")
		return "", "", false
	}
	return libID, filePath, true
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, repository.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "not found")
		return
	}
	h.logger.Error().Err(err).Msg(op)
	h.respondError(w, http.StatusInternalServerError, "storage error")
}

func (h *Handler) respondTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrTokenExpired):
		h.respondError(w, http.StatusGone, "access link expired")
	case errors.Is(err, repository.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "unknown access link")
	default:
		h.logger.Error().Err(err).Msg("resolve token")
		h.respondError(w, http.StatusInternalServerError, "storage error")
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("encode response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}
