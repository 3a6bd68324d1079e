package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/crucible/internal/judge"
	"github.com/michaelbrown/crucible/internal/runner"
	"github.com/michaelbrown/crucible/internal/supervise"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // deployed behind a trusted reverse proxy
	},
}

// wsRunRequest is the client's single message starting a scaffold run.
type wsRunRequest struct {
	Name           string  `json:"name"`
	Dir            string  `json:"dir"`
	Input          string  `json:"input"`
	Model          string  `json:"model"`
	LogLevel       string  `json:"log_level"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MemoryLimitMB  float64 `json:"memory_limit_mb"`
}

// wsFrame is one server-to-client message: live output while the scaffold
// runs, then exactly one result (or error) frame.
type wsFrame struct {
	Type     string `json:"type"` // "stdout" | "stderr" | "result" | "error"
	Content  string `json:"content,omitempty"`
	State    string `json:"state,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleRunWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	var req wsRunRequest
	if err := conn.ReadJSON(&req); err != nil {
		wsWrite(conn, wsFrame{Type: "error", Error: "invalid request: " + err.Error()})
		return
	}
	if req.Name == "" || req.Dir == "" {
		wsWrite(conn, wsFrame{Type: "error", Error: "name and dir are required"})
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(s.cfg.Scaffold.TimeoutSeconds) * time.Second
	}
	limits := s.cfg.DefaultLimits()
	if req.MemoryLimitMB > 0 {
		limits.MemoryLimitMB = req.MemoryLimitMB
	}
	limits.TimeLimitSeconds = timeout.Seconds()

	// The sink runs on this handler's goroutine (the supervisor loop is
	// synchronous), so the websocket sees one writer.
	res, err := s.runner.RunScaffold(r.Context(), runner.ScaffoldRequest{
		Name:     req.Name,
		Dir:      req.Dir,
		Input:    req.Input,
		Model:    req.Model,
		LogLevel: req.LogLevel,
		Limits:   limits,
		Timeout:  timeout,
		Sink: func(ln supervise.Line) {
			wsWrite(conn, wsFrame{Type: ln.Stream, Content: ln.Text})
		},
	})
	if err != nil {
		// Infra failures and bad requests alike end the stream here; the
		// client never saw a result frame, so the run did not count.
		wsWrite(conn, wsFrame{Type: "error", Error: err.Error()})
		return
	}

	wsWrite(conn, wsFrame{
		Type:     "result",
		State:    string(judge.ClassifyScaffold(res)),
		ExitCode: res.ExitCode,
		Error:    res.ErrorMessage,
	})
}

func wsWrite(conn *websocket.Conn, frame wsFrame) {
	_ = conn.WriteJSON(frame)
}
