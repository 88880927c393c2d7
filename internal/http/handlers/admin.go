package handlers

import "net/http"

// StreamsCleanup runs one sweeper pass on demand. The route is mounted
// outside the public /v1 tree; deployments bind it to an internal listener
// or strip it at the edge.
func (a *App) StreamsCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := a.Sweeper.RunOnce(r.Context())
	if err != nil {
		a.Log.Error().Err(err).Msg("cleanup pass failed")
		a.error(w, http.StatusInternalServerError, "internal", "cleanup failed")
		return
	}
	a.json(w, http.StatusOK, map[string]int{
		"timed_out": len(res.TimedOut),
		"deleted":   res.Deleted,
	})
}
