package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
	"github.com/Saluana/or3-chat-sub013/internal/infra"
	"github.com/Saluana/or3-chat-sub013/internal/middleware"
	"github.com/Saluana/or3-chat-sub013/internal/runner"
	"github.com/Saluana/or3-chat-sub013/internal/viewer"
)

type App struct {
	Cfg      *infra.Config
	Log      zerolog.Logger
	Store    domain.JobStore
	Registry *viewer.Registry
	Runner   *runner.Runner
	Sweeper  *runner.Sweeper
}

func NewApp(cfg *infra.Config, log zerolog.Logger, store domain.JobStore, registry *viewer.Registry, r *runner.Runner, sw *runner.Sweeper) *App {
	return &App{Cfg: cfg, Log: log, Store: store, Registry: registry, Runner: r, Sweeper: sw}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": errCode, "message": message}})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
