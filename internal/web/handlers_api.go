package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/panel"
)

type panelSummary struct {
	Topic        string       `json:"topic"`
	Status       panel.Status `json:"status"`
	Online       bool         `json:"online"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	IP           string       `json:"ip,omitempty"`
	Model        string       `json:"model,omitempty"`
	Page         int          `json:"page"`
	Screensaver  bool         `json:"screensaver"`
}

func (s *Server) handleAPIListPanels(w http.ResponseWriter, r *http.Request) {
	out := []panelSummary{}
	for _, topic := range s.panels.Topics() {
		rec, ok := s.panels.Get(topic)
		if !ok {
			continue
		}
		out = append(out, panelSummary{
			Topic:        rec.Topic,
			Status:       rec.Status,
			Online:       rec.Online,
			FriendlyName: rec.FriendlyName,
			IP:           rec.IP,
			Model:        rec.PanelModel,
			Page:         rec.CurrentPage,
			Screensaver:  rec.ScreensaverActive,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetPanel(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.panels.Get(r.PathValue("topic"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "panel not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAPIRefreshPanel(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	rec, ok := s.panels.Get(topic)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "panel not found"})
		return
	}
	if !rec.Online {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "panel offline"})
		return
	}
	s.bridge.RefreshPanel(topic)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

type simulateRequest struct {
	Message string `json:"message"` // 1-5, lwt or discovery
}

func (s *Server) handleAPISimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.bridge.Simulate(r.PathValue("topic"), req.Message); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

type itemValue struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func (s *Server) handleAPIListItems(w http.ResponseWriter, r *http.Request) {
	keys := s.items.Keys()
	out := make([]itemValue, 0, len(keys))
	for _, k := range keys {
		v, _ := s.items.Get(k)
		out = append(out, itemValue{Path: k, Value: v})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetItem(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	v, ok := s.items.Get(p)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": items.ErrNotFound.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, itemValue{Path: p, Value: v})
}

type setItemRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleAPISetItem(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	var req setItemRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.items.Set(p, req.Value, Origin, r.RemoteAddr); err != nil {
		s.logger.Error("set item", "path", p, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	v, _ := s.items.Get(p)
	s.writeJSON(w, http.StatusOK, itemValue{Path: p, Value: v})
}

type diagnostics struct {
	CustomLog      []string `json:"custom_log"`
	RetainedTopics []string `json:"retained_topics"`
	Timers         []string `json:"timers"`
	OnlinePanels   []string `json:"online_panels"`
}

func (s *Server) handleAPIDiagnostics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, diagnostics{
		CustomLog:      nonNil(s.bridge.CustomLog()),
		RetainedTopics: nonNil(s.bridge.RetainedTopics()),
		Timers:         nonNil(s.bridge.Timers()),
		OnlinePanels:   nonNil(s.panels.OnlineTopics()),
	})
}

func (s *Server) handleAPIListScripts(w http.ResponseWriter, r *http.Request) {
	if s.automation == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	scripts, err := s.automation.Status()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if scripts == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

var errNoAutomation = errors.New("automation not available")

func (s *Server) handleAPIRunScript(w http.ResponseWriter, r *http.Request) {
	if s.automation == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": errNoAutomation.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.automation.RunScript(r.PathValue("id")))
}

func (s *Server) handleAPIReloadScript(w http.ResponseWriter, r *http.Request) {
	if s.automation == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": errNoAutomation.Error()})
		return
	}
	id := r.PathValue("id")
	if err := s.automation.ReloadScript(id); err != nil {
		s.logger.Warn("reload script", "id", id, "err", err)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIStopScript(w http.ResponseWriter, r *http.Request) {
	if s.automation == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": errNoAutomation.Error()})
		return
	}
	s.automation.StopScript(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
