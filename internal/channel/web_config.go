package channel

import (
	"encoding/json"
	"io"
	"net/http"

	"wordchat/internal/config"
)

const maxBodySize = 1 << 20

// handleGetConfig returns the current config with secrets masked.
func (w *Web) handleGetConfig(rw http.ResponseWriter, _ *http.Request) {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()

	if w.cfg == nil {
		writeError(rw, http.StatusServiceUnavailable, "config not loaded")
		return
	}
	writeJSON(rw, http.StatusOK, config.Sanitize(w.cfg))
}

// handleUpdateConfig applies { "path": "arbiter.contextMessages", "value": 8 }.
// The change is validated, then written to the config file when one is
// known; running components pick it up on the next start.
func (w *Web) handleUpdateConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()

	if w.cfg == nil {
		writeError(rw, http.StatusServiceUnavailable, "config not loaded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var partial struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(body, &partial); err != nil || partial.Path == "" {
		writeError(rw, http.StatusBadRequest, `expected {"path": "...", "value": ...}`)
		return
	}

	candidate, err := config.Clone(w.cfg)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.SetByPath(candidate, partial.Path, partial.Value); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.Validate(candidate); err != nil {
		writeError(rw, http.StatusBadRequest, "validation: "+err.Error())
		return
	}
	*w.cfg = *candidate

	status := "updated"
	if w.cfgPath != "" {
		if err := config.Save(w.cfgPath, w.cfg); err != nil {
			writeError(rw, http.StatusInternalServerError, "save failed: "+err.Error())
			return
		}
		status = "saved"
	}
	w.logger.Info("config updated via path", "path", partial.Path, "status", status)
	writeJSON(rw, http.StatusOK, map[string]string{"status": status, "path": partial.Path})
}
