package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/analysis"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/project"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only project status and results over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		proj, err := openProject(ctx)
		if err != nil {
			return err
		}
		defer proj.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(proj),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the read-only HTTP surface. Every handler answers
// from the store; nothing reaches into a live scheduler.
func newRouter(proj *project.Project) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/project", func(w http.ResponseWriter, req *http.Request) {
			stats, err := proj.Stats(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"name":       proj.Desc.Name,
				"crs":        proj.Desc.CRS,
				"study_area": proj.Desc.StudyArea,
				"sources":    proj.Desc.Sources,
				"stats":      stats,
			})
		})

		api.Get("/features", func(w http.ResponseWriter, req *http.Request) {
			feats, err := proj.Features(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			out := make([]map[string]any, 0, len(feats))
			for _, f := range feats {
				out = append(out, map[string]any{
					"id":   f.ID,
					"name": f.Name,
					"seq":  f.Seq,
					"bbox": f.BBox,
				})
			}
			writeJSON(w, http.StatusOK, out)
		})

		api.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			limit := 20
			if q := req.URL.Query().Get("limit"); q != "" {
				if n, err := strconv.Atoi(q); err == nil && n > 0 {
					limit = n
				}
			}
			runs, err := proj.ListRuns(req.Context(), project.RunFilter{Limit: limit})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		api.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := proj.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			if run == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		api.Get("/runs/{id}/jobs", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			run, err := proj.GetRun(req.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			if run == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			jobs, err := proj.ListJobs(req.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, jobs)
		})

		api.Get("/runs/{id}/result", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			run, err := proj.GetRun(req.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			if run == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			res, err := analysis.Assemble(req.Context(), proj, id)
			if err != nil {
				switch model.KindOf(err) {
				case model.KindDataUnavailable:
					writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				default:
					writeError(w, err)
				}
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
