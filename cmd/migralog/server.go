package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhaensel/migralog/internal/capture"
	"github.com/jhaensel/migralog/internal/config"
	"github.com/jhaensel/migralog/internal/health"
	"github.com/jhaensel/migralog/internal/observe"
	"github.com/jhaensel/migralog/internal/pipeline"
	"github.com/jhaensel/migralog/internal/transcribe"
)

// maxDictateBody bounds uploaded dictation payloads (audio included).
const maxDictateBody = 25 << 20

// dictateRequest is the JSON body of POST /v1/dictate. Multipart uploads
// carry the same fields as form values plus an "audio" file part.
type dictateRequest struct {
	CorrelationID string `json:"correlationId"`
	Transcript    string `json:"transcript"`
	Restarts      int    `json:"restarts"`
}

// policyResponse describes the capture recommendation for one platform.
type policyResponse struct {
	Mode          capture.Mode `json:"mode"`
	KnownUnstable bool         `json:"knownUnstable"`
	Policy        policyJSON   `json:"policy"`
}

type policyJSON struct {
	MaxRestarts            int   `json:"maxRestarts"`
	RestartWindowMs        int64 `json:"restartWindowMs"`
	RestartDelayMs         int64 `json:"restartDelayMs"`
	SilenceThresholdMs     int64 `json:"silenceThresholdMs"`
	SilenceCheckIntervalMs int64 `json:"silenceCheckIntervalMs"`
}

// newHandler builds the full HTTP surface: dictation intake, draft and event
// reads, capture policy lookup, health probes, and the Prometheus scrape
// endpoint. Everything except /metrics runs behind the tracing middleware.
func newHandler(orch *pipeline.Orchestrator, watcher *config.Watcher) http.Handler {
	mux := http.NewServeMux()

	health.New(health.Checker{
		Name:  "config",
		Check: func(ctx context.Context) error { return configCheck(watcher) },
	}).Register(mux)

	mux.HandleFunc("POST /v1/dictate", handleDictate(orch))
	mux.HandleFunc("GET /v1/drafts", handleDrafts(orch))
	mux.HandleFunc("GET /v1/drafts/{id}", handleDraft(orch))
	mux.HandleFunc("GET /v1/events", handleEvents(orch))
	mux.HandleFunc("GET /v1/capture/policy", handleCapturePolicy)

	root := http.NewServeMux()
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/", observe.Middleware(observe.DefaultMetrics())(mux))
	return root
}

func configCheck(watcher *config.Watcher) error {
	if watcher.Current() == nil {
		return errors.New("no configuration loaded")
	}
	return nil
}

// handleDictate accepts one finalized capture session and runs it through the
// pipeline synchronously, returning the completed draft.
func handleDictate(orch *pipeline.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxDictateBody)

		in, err := decodeDictate(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}

		draft, err := orch.Run(r.Context(), in)
		switch {
		case errors.Is(err, pipeline.ErrRunInFlight):
			httpError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, transcribe.ErrProviderUnavailable):
			httpError(w, http.StatusBadGateway, err.Error())
			return
		case err != nil:
			observe.Logger(r.Context()).Error("dictation failed", slog.String("error", err.Error()))
			httpError(w, http.StatusInternalServerError, "dictation failed")
			return
		}

		writeDraft(w, http.StatusCreated, draft)
	}
}

// decodeDictate reads either a JSON body or a multipart form with an
// optional "audio" file part.
func decodeDictate(r *http.Request) (pipeline.Input, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(maxDictateBody); err != nil {
			return pipeline.Input{}, errors.New("malformed multipart body")
		}
		in := pipeline.Input{
			CorrelationID: r.FormValue("correlation_id"),
			Transcript:    r.FormValue("transcript"),
		}
		if v := r.FormValue("restarts"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return pipeline.Input{}, errors.New("restarts must be a non-negative integer")
			}
			in.Restarts = n
		}
		if file, _, err := r.FormFile("audio"); err == nil {
			in.Audio = file
		}
		return in, nil
	}

	var req dictateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return pipeline.Input{}, errors.New("malformed JSON body")
	}
	if req.Restarts < 0 {
		return pipeline.Input{}, errors.New("restarts must be a non-negative integer")
	}
	return pipeline.Input{
		CorrelationID: req.CorrelationID,
		Transcript:    req.Transcript,
		Restarts:      req.Restarts,
	}, nil
}

func handleDrafts(orch *pipeline.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, orch.Drafts())
	}
}

func handleDraft(orch *pipeline.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		for _, d := range orch.Drafts() {
			if d.ID == id {
				writeDraft(w, http.StatusOK, d)
				return
			}
		}
		httpError(w, http.StatusNotFound, "draft not found")
	}
}

// handleEvents serves incremental completion polling: ?since=N returns all
// buffered completions with a sequence number greater than N.
func handleEvents(orch *pipeline.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var since int64
		if v := r.URL.Query().Get("since"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "since must be a non-negative integer")
				return
			}
			since = n
		}
		events := orch.Notifier().Since(since)
		if events == nil {
			events = []pipeline.Completion{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// handleCapturePolicy maps a platform fingerprint, supplied as query
// parameters by the embedding application, to the recommended capture mode
// and stability policy.
func handleCapturePolicy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	fp := capture.Fingerprint{
		OS:            capture.OS(strings.ToLower(q.Get("os"))),
		BrowserFamily: capture.BrowserFamily(strings.ToLower(q.Get("browser"))),
		Standalone:    q.Get("standalone") == "true",
	}
	if fp.OS == "" {
		fp.OS = capture.OSOther
	}
	if fp.BrowserFamily == "" {
		fp.BrowserFamily = capture.BrowserOther
	}

	pol := capture.PolicyFor(fp)
	writeJSON(w, http.StatusOK, policyResponse{
		Mode:          capture.RecommendedMode(fp),
		KnownUnstable: capture.IsKnownUnstable(fp),
		Policy: policyJSON{
			MaxRestarts:            pol.MaxRestarts,
			RestartWindowMs:        pol.RestartWindow.Milliseconds(),
			RestartDelayMs:         pol.RestartDelay.Milliseconds(),
			SilenceThresholdMs:     pol.SilenceThreshold.Milliseconds(),
			SilenceCheckIntervalMs: pol.SilenceCheckInterval.Milliseconds(),
		},
	})
}

func writeDraft(w http.ResponseWriter, status int, d *pipeline.Draft) {
	body, err := pipeline.Snapshot(d)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to encode draft")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
