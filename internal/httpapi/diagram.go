package httpapi

import (
	"net/http"

	"github.com/fusserg007/botconstructor/internal/diagram"
	"github.com/fusserg007/botconstructor/internal/store"
)

// handleDiagram renders a registered bot. ?format picks mermaid (default),
// ascii, svg or png; ?run overlays the node states of a recorded run.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bot, ok := s.deps.Dispatcher.Schema(id)
	if !ok {
		writeError(w, http.StatusNotFound, "bot "+id+" is not registered")
		return
	}

	var trace *store.RunTrace
	if runID := r.URL.Query().Get("run"); runID != "" {
		if s.deps.Runs == nil {
			writeError(w, http.StatusNotImplemented, "run history is not recorded")
			return
		}
		t, err := s.deps.Runs.ReplayRun(r.Context(), runID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if t.BotID != id {
			writeError(w, http.StatusNotFound, "run "+runID+" does not belong to bot "+id)
			return
		}
		trace = t
	}

	model, err := diagram.Build(bot, trace)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		writeText(w, "text/vnd.mermaid; charset=utf-8", []byte(diagram.RenderMermaid(model)))
	case "ascii":
		writeText(w, "text/plain; charset=utf-8", []byte(diagram.RenderASCII(model)))
	case "svg", "png":
		render, contentType := diagram.RenderSVG, "image/svg+xml"
		if format == "png" {
			render, contentType = diagram.RenderImage, "image/png"
		}
		out, err := render(r.Context(), model)
		if err != nil {
			s.deps.Logger.Error("diagram render failed", "bot_id", id, "format", format, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeText(w, contentType, out)
	default:
		writeError(w, http.StatusBadRequest, "unknown diagram format "+format)
	}
}

func writeText(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
