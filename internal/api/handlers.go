package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/job"
)

type messageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Utterance string `json:"utterance"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "编排器未初始化"))
		return
	}
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sessionID := r.PathValue("id")
	if sessionID == "" {
		sessionID = strings.TrimSpace(req.SessionID)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}
	reply, err := s.orch.Handle(ctx, sessionID, req.Utterance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "编排器未初始化"))
		return
	}
	id := r.PathValue("id")
	transcript, ok := s.orch.Transcript(id)
	if !ok {
		writeError(w, r, xerrors.New(xerrors.CodeNotFound, "会话不存在"))
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "编排器未初始化"))
		return
	}
	if err := s.orch.Reset(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "编排器未初始化"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.orch.Tools()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "未启用异步任务"))
		return
	}
	var req job.Request
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.jobs.Enqueue(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+created.ID)
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "未启用异步任务"))
		return
	}
	found, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "未启用异步任务"))
		return
	}
	query := r.URL.Query()
	opts := job.ListOptions{SessionID: query.Get("session_id")}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是整数"))
			return
		}
		opts.Limit = limit
	}
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			status := job.Status(strings.TrimSpace(part))
			if !job.IsValidStatus(status) {
				writeError(w, r, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的任务状态 %q", part))
				return
			}
			opts.Statuses = append(opts.Statuses, status)
		}
	}
	jobs, err := s.jobs.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
