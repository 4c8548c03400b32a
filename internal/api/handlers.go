package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fossabot/authrim-sub000/internal/events"
	"github.com/fossabot/authrim-sub000/internal/executor"
)

// Helper to get tenant. The body field wins over the header so programmatic
// clients can be explicit; the header serves browser clients.
func tenantID(r *http.Request, bodyTenant string) string {
	if bodyTenant != "" {
		return bodyTenant
	}
	return r.Header.Get("X-Tenant-ID")
}

func requestMeta(r *http.Request) events.Metadata {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	} else if i := strings.IndexByte(ip, ','); i >= 0 {
		ip = strings.TrimSpace(ip[:i])
	}
	return events.Metadata{
		Source:    "flow-api",
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeFlowError(w http.ResponseWriter, ferr *executor.FlowError) {
	writeJSON(w, statusForCode(ferr.Code), map[string]interface{}{"type": "error", "error": ferr})
}

// statusForCode maps wire error codes onto HTTP statuses. Unknown codes
// fall through to 400 so clients never retry blindly.
func statusForCode(code string) int {
	switch code {
	case executor.CodeFlowNotFound, executor.CodeSessionNotFound,
		executor.CodeNodeNotFound, executor.CodeNextNodeNotFound,
		executor.CodePlanNotFound:
		return http.StatusNotFound
	case executor.CodeSessionExists:
		return http.StatusConflict
	case executor.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case executor.CodeSessionTimeout:
		return http.StatusGone
	case executor.CodeInvalidSession:
		return http.StatusForbidden
	case executor.CodeInitFailed, executor.CodeSubmitFailed,
		executor.CodeStateFetchFailed, executor.CodeCancelFailed:
		return http.StatusInternalServerError
	case events.DenyCodeTimeout:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

type initBody struct {
	FlowType    string            `json:"flowType"`
	TenantID    string            `json:"tenantId"`
	ClientID    string            `json:"clientId"`
	OAuthParams map[string]string `json:"oauthParams"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var body initBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	resp, ferr := s.executor.Init(r.Context(), executor.InitRequest{
		FlowType:    body.FlowType,
		TenantID:    tenantID(r, body.TenantID),
		ClientID:    body.ClientID,
		OAuthParams: body.OAuthParams,
		Meta:        requestMeta(r),
	})
	if ferr != nil {
		writeFlowError(w, ferr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitBody struct {
	SessionID    string      `json:"sessionId"`
	RequestID    string      `json:"requestId"`
	CapabilityID string      `json:"capabilityId"`
	Response     interface{} `json:"response"`
	TenantID     string      `json:"tenantId"`
	ClientID     string      `json:"clientId"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if body.SessionID == "" || body.RequestID == "" {
		http.Error(w, "sessionId and requestId are required", http.StatusBadRequest)
		return
	}

	resp, err := s.executor.Submit(r.Context(), executor.SubmitRequest{
		SessionID:    body.SessionID,
		RequestID:    body.RequestID,
		CapabilityID: body.CapabilityID,
		Response:     body.Response,
		TenantID:     tenantID(r, body.TenantID),
		ClientID:     body.ClientID,
		Meta:         requestMeta(r),
	})
	if err != nil {
		s.logger.Printf("Submit failed for %s: %v", body.SessionID, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if resp.Idempotent {
		w.Header().Set("X-Idempotent", "true")
	}
	if resp.Type == "error" && resp.Error != nil {
		writeJSON(w, statusForCode(resp.Error.Code), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	resp, ferr := s.executor.State(r.Context(), sessionID)
	if ferr != nil {
		writeFlowError(w, ferr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type cancelBody struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if ferr := s.executor.Cancel(r.Context(), body.SessionID); ferr != nil {
		writeFlowError(w, ferr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sessionId": body.SessionID})
}

type hookInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	EventPattern string `json:"eventPattern"`
	Priority     int    `json:"priority"`
	Enabled      bool   `json:"enabled"`
	Async        bool   `json:"async,omitempty"`
}

func (s *Server) handleListHooks(w http.ResponseWriter, r *http.Request) {
	out := map[string][]hookInfo{"before": {}, "after": {}}
	if s.before != nil {
		for _, h := range s.before.List() {
			out["before"] = append(out["before"], hookInfo{
				ID: h.ID, Name: h.Name, EventPattern: h.EventPattern,
				Priority: h.Priority, Enabled: h.Enabled,
			})
		}
	}
	if s.after != nil {
		for _, h := range s.after.List() {
			out["after"] = append(out["after"], hookInfo{
				ID: h.ID, Name: h.Name, EventPattern: h.EventPattern,
				Priority: h.Priority, Enabled: h.Enabled, Async: h.Async,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Stats())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
