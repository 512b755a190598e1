package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/journal"
	"SpendGuard/internal/policy"
)

const maxBodyBytes = 1 << 20

// heartbeatBody 用指针区分缺失字段与零值。
type heartbeatBody struct {
	AgentID  *string        `json:"agent_id"`
	Cost     *float64       `json:"cost"`
	IsZombie bool           `json:"is_zombie"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body heartbeatBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		msg := "请求体解析失败"
		if errors.Is(err, io.EOF) {
			msg = "请求体为空"
		}
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, msg))
		return
	}
	if body.AgentID == nil || body.Cost == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "agent_id 和 cost 为必填字段"))
		return
	}

	result, err := s.policy.Heartbeat(r.Context(), policy.HeartbeatRequest{
		AgentID:  *body.AgentID,
		Cost:     *body.Cost,
		IsZombie: body.IsZombie,
		Metadata: body.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	agentID, err := s.policy.KillSwitch(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed", "agent_id": agentID})
}

func (s *Server) handleRevive(w http.ResponseWriter, r *http.Request) {
	agentID, err := s.policy.Revive(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revived", "agent_id": agentID})
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	agentID := query.Get("agent_id")
	amount, err := strconv.ParseFloat(strings.TrimSpace(query.Get("amount")), 64)
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "amount 必须是数字"))
		return
	}
	remaining, err := s.policy.TopUp(r.Context(), agentID, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"agent_id":          strings.TrimSpace(agentID),
		"remaining_balance": remaining,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.policy.Status(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if status == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLatencyStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.policy.LatencyStats())
}

func (s *Server) handleResilienceStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.policy.ResilienceStats(r.Context()))
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := journal.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.policy.Journal(r.Context(), r.PathValue("agent_id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "store": s.policy.StoreKind()}
	if err := s.policy.Health(r.Context()); err != nil {
		s.logger.Warn("health check failed", slog.Any("error", err))
		body["status"] = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
