package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/vidcut/internal/export"
	"github.com/heimdex/vidcut/internal/history"
	"github.com/heimdex/vidcut/internal/session"
)

const defaultFrameRate = 30.0

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/session", sessionHandler(cfg))
		r.Post("/session/open", openHandler(cfg))
		r.Post("/session/new", newSessionHandler(cfg))
		r.Post("/session/seek", seekHandler(cfg))

		r.Post("/regions/start", markStartHandler(cfg))
		r.Post("/regions/end", markEndHandler(cfg))
		r.Post("/regions/reorder", reorderHandler(cfg))
		r.Post("/regions/{index}/up", moveHandler(cfg, cfg.Controller.MoveUp))
		r.Post("/regions/{index}/down", moveHandler(cfg, cfg.Controller.MoveDown))
		r.Delete("/regions/{index}", moveHandler(cfg, cfg.Controller.Remove))
		r.Delete("/regions", clearHandler(cfg))
		r.Get("/regions/{index}/thumbnail", thumbnailHandler(cfg))

		r.Post("/export", exportHandler(cfg))
		r.Post("/export/edl", edlHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.With(LoopbackGuard()).Get("/exports/{id}/file", downloadHandler(cfg))
		r.With(LoopbackGuard()).Head("/exports/{id}/file", downloadHandler(cfg))

		r.Get("/events", eventsHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		resp := HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(r.Context())
			if err == nil && caps != nil {
				resp.Backend = &BackendStatusResponse{
					Name:           caps.Backend,
					Ready:          caps.Ready(),
					FFmpegVersion:  caps.FFmpeg.Version,
					FFprobeVersion: caps.FFprobe.Version,
					LastProbeAt:    caps.ProbedAt.Format(time.RFC3339),
				}
				if !caps.Ready() {
					resp.Status = "degraded"
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func sessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

func openHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Controller.Open(r.Context(), req.Path); err != nil {
			if errors.Is(err, session.ErrBusy) {
				writeSessionError(w, err)
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

func newSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Controller.StartNew(); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.PositionMs == nil {
			WriteError(w, http.StatusBadRequest, "position_ms is required", "BAD_REQUEST")
			return
		}

		pos, err := cfg.Controller.Seek(*req.PositionMs)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SeekResponse{PositionMs: pos})
	}
}

func markStartHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MarkRequest
		if !decodeOptional(w, r, &req) {
			return
		}

		index, err := cfg.Controller.MarkStart(r.Context(), req.PositionMs)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, MarkResponse{Index: index, Session: cfg.Controller.Snapshot()})
	}
}

func markEndHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MarkRequest
		if !decodeOptional(w, r, &req) {
			return
		}

		index, err := cfg.Controller.MarkEnd(req.PositionMs)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, MarkResponse{Index: index, Session: cfg.Controller.Snapshot()})
	}
}

func reorderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReorderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.From == nil || req.To == nil {
			WriteError(w, http.StatusBadRequest, "from and to are required", "BAD_REQUEST")
			return
		}

		if err := cfg.Controller.Reorder(*req.From, *req.To); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

// moveHandler serves the routes that act on a single region index.
func moveHandler(cfg ServerConfig, op func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := indexParam(w, r)
		if !ok {
			return
		}
		if err := op(index); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

func clearHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Controller.Clear(); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

func thumbnailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := indexParam(w, r)
		if !ok {
			return
		}
		img, err := cfg.Controller.Thumbnail(index)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		if len(img) == 0 {
			WriteError(w, http.StatusNotFound, "region has no thumbnail", "NOT_FOUND")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(img)))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(img)
	}
}

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if !decodeOptional(w, r, &req) {
			return
		}

		ctx := r.Context()
		dest := req.Destination
		if dest == "" {
			dest = rememberedDestination(cfg, r)
		}

		job, err := cfg.Controller.StartExport(ctx, dest)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		if cfg.Repository != nil {
			if err := cfg.Repository.SetConfig(ctx, history.ConfigLastDest, filepath.Dir(job.Destination)); err != nil {
				cfg.Logger.Warn("failed to remember destination dir", "error", err)
			}
		}

		if !req.Wait {
			WriteJSON(w, http.StatusAccepted, ExportAcceptedResponse{ID: job.ID, Destination: job.Destination})
			return
		}

		// The export keeps running if the client goes away.
		res, err := job.Wait(ctx)
		if err != nil && res == nil {
			writeSessionError(w, err)
			return
		}
		if cfg.Repository == nil {
			WriteJSON(w, http.StatusOK, ExportAcceptedResponse{ID: job.ID, Destination: job.Destination})
			return
		}
		rec, err := cfg.Repository.GetExport(ctx, job.ID)
		if err != nil || rec == nil {
			WriteJSON(w, http.StatusOK, ExportAcceptedResponse{ID: job.ID, Destination: job.Destination})
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(rec))
	}
}

// rememberedDestination places the suggested output name in the last used
// destination directory, or returns "" to let the session decide.
func rememberedDestination(cfg ServerConfig, r *http.Request) string {
	if cfg.Repository == nil {
		return ""
	}
	source := cfg.Controller.Snapshot().Source
	if source == "" {
		return ""
	}
	dir, err := cfg.Repository.GetConfig(r.Context(), history.ConfigLastDest)
	if err != nil || dir == "" {
		return ""
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ""
	}
	return filepath.Join(dir, filepath.Base(export.SuggestDestination(source)))
}

func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EDLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		snap := cfg.Controller.Snapshot()
		if snap.Source == "" {
			writeSessionError(w, session.ErrNoMedia)
			return
		}
		tl := cfg.Controller.Timeline()
		if !tl.IsExportable() {
			writeSessionError(w, export.ErrNotReady)
			return
		}

		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = cfg.FrameRate
		}
		if frameRate <= 0 {
			frameRate = defaultFrameRate
		}

		path, err := export.WriteEDL(req.OutputDir, tl.Regions(), snap.Source, req.Title, frameRate)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, EDLResponse{
			Status:      "ok",
			Format:      "edl",
			OutputPath:  path,
			RegionCount: tl.Len(),
		})
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		exports, err := cfg.Repository.ListExports(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}

		resp := ExportsResponse{Exports: make([]ExportResponse, len(exports))}
		for i, e := range exports {
			resp.Exports[i] = ExportToResponse(e)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := lookupExport(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(rec))
	}
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := lookupExport(cfg, w, r)
		if !ok {
			return
		}
		if rec.Status != history.StatusCompleted {
			WriteError(w, http.StatusConflict, "export has not completed", "NOT_COMPLETED")
			return
		}

		if err := serveFile(w, r, rec.Destination); err != nil {
			cfg.Logger.Error("download error", "error", err, "export_id", rec.ID)
		}
	}
}

func lookupExport(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*history.Export, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "export id required", "BAD_REQUEST")
		return nil, false
	}

	rec, err := cfg.Repository.GetExport(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	if rec == nil {
		WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
		return nil, false
	}
	return rec, true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "region index must be an integer", "BAD_REQUEST")
		return 0, false
	}
	return index, true
}

// decodeOptional decodes a JSON body into v, accepting an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

func writeSessionError(w http.ResponseWriter, err error) {
	code := session.ErrorCode(err)
	WriteJSON(w, statusForCode(code), ErrorResponse{
		Error: err.Error(),
		Code:  code,
		Step:  session.ErrorStep(err),
	})
}

func statusForCode(code string) int {
	switch code {
	case session.CodeInvalidState, session.CodeBusy, session.CodeNoMedia, session.CodeNotReady:
		return http.StatusConflict
	case session.CodeInvalidRange:
		return http.StatusUnprocessableEntity
	case session.CodeOutOfRange:
		return http.StatusNotFound
	case session.CodeBadRequest:
		return http.StatusBadRequest
	case session.CodeBackendFailure:
		return http.StatusBadGateway
	case session.CodeCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
