package channel

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"wordchat/internal/domain"
	"wordchat/internal/memory"
)

// conversationView is the JSON shape of one conversation in the web API.
type conversationView struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	CreatedAt int64            `json:"timestamp"`
	Messages  []domain.Message `json:"messages"`
}

func viewOf(c domain.Conversation) conversationView {
	msgs := c.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return conversationView{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, Messages: msgs}
}

func (w *Web) handleListConversations(rw http.ResponseWriter, r *http.Request) {
	s, ok := w.store(rw, r)
	if !ok {
		return
	}
	list, err := s.List(r.Context())
	if err != nil {
		w.storeError(rw, "list conversations", err)
		return
	}
	if list == nil {
		list = []memory.Summary{}
	}
	writeJSON(rw, http.StatusOK, list)
}

func (w *Web) handleNewConversation(rw http.ResponseWriter, r *http.Request) {
	s, ok := w.store(rw, r)
	if !ok {
		return
	}
	c, err := s.New(r.Context())
	if err != nil {
		w.storeError(rw, "new conversation", err)
		return
	}
	writeJSON(rw, http.StatusCreated, viewOf(c))
}

func (w *Web) handleActiveConversation(rw http.ResponseWriter, r *http.Request) {
	s, ok := w.store(rw, r)
	if !ok {
		return
	}
	c, err := s.Active(r.Context())
	if err != nil {
		w.storeError(rw, "active conversation", err)
		return
	}
	writeJSON(rw, http.StatusOK, viewOf(c))
}

func (w *Web) handleGetConversation(rw http.ResponseWriter, r *http.Request) {
	s, ok := w.store(rw, r)
	if !ok {
		return
	}
	c, err := s.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		w.storeError(rw, "get conversation", err)
		return
	}
	writeJSON(rw, http.StatusOK, viewOf(c))
}

func (w *Web) handleSwitchConversation(rw http.ResponseWriter, r *http.Request) {
	s, ok := w.store(rw, r)
	if !ok {
		return
	}
	c, err := s.Switch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		w.storeError(rw, "switch conversation", err)
		return
	}
	writeJSON(rw, http.StatusOK, viewOf(c))
}

func (w *Web) handleDeleteConversation(rw http.ResponseWriter, r *http.Request) {
	s, ok := w.store(rw, r)
	if !ok {
		return
	}
	id, err := s.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		w.storeError(rw, "delete conversation", err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"deleted": id})
}

// handleExport downloads every conversation of the session as one JSON file.
func (w *Web) handleExport(rw http.ResponseWriter, r *http.Request) {
	s, ok := w.store(rw, r)
	if !ok {
		return
	}
	data, err := s.Export(r.Context())
	if err != nil {
		w.storeError(rw, "export", err)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename))
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write(data)
}

// handleImport replaces the session's conversations with an uploaded export.
// The body is either the raw JSON document or a multipart form with a "file" part.
func (w *Web) handleImport(rw http.ResponseWriter, r *http.Request) {
	s, ok := w.store(rw, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(rw, r.Body, maxImportSize)

	var src io.Reader = r.Body
	if err := r.ParseMultipartForm(maxImportSize); err == nil {
		f, _, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(rw, http.StatusBadRequest, "missing file")
			return
		}
		defer f.Close()
		src = f
	}

	data, err := io.ReadAll(src)
	if err != nil {
		writeError(rw, http.StatusRequestEntityTooLarge, "import too large")
		return
	}
	if err := s.Import(r.Context(), data); err != nil {
		w.logger.Warn("import rejected", "err", err)
		writeError(rw, http.StatusBadRequest, "invalid file format")
		return
	}
	list, err := s.List(r.Context())
	if err != nil {
		w.storeError(rw, "list conversations", err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"status": "imported", "conversations": len(list)})
}

func (w *Web) storeError(rw http.ResponseWriter, op string, err error) {
	if errors.Is(err, memory.ErrNotFound) {
		writeError(rw, http.StatusNotFound, err.Error())
		return
	}
	w.logger.Error("conversation api failed", "op", op, "err", err)
	writeError(rw, http.StatusInternalServerError, op+" failed")
}
