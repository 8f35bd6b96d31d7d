package httpapi

import (
	"net/http"

	"github.com/fusserg007/botconstructor/internal/scheduler"
	"github.com/fusserg007/botconstructor/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListBots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"bots": s.deps.Dispatcher.Bots()})
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.deps.Dispatcher.Schema(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, "no store configured")
		return
	}
	q := r.URL.Query()
	records, err := s.deps.Store.ListRecords(r.Context(), store.RecordFilter{
		BotID:      r.PathValue("id"),
		Collection: q.Get("collection"),
		UserID:     q.Get("user"),
		Limit:      queryInt(r, "limit", 100),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []*store.DataRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"schedules": []scheduler.Job{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.deps.Scheduler.Jobs()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusNotImplemented, "run history is not recorded")
		return
	}
	trace, err := s.deps.Runs.ReplayRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Dispatcher.Stats())
}

// handleErrors reports error tallies and the most recent handled errors,
// newest first.
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	errs := s.deps.Dispatcher.Engine().Errors()
	st := errs.Stats()
	st.Recent = errs.Log().Recent(max(queryInt(r, "limit", 50), 0))
	writeJSON(w, http.StatusOK, st)
}
