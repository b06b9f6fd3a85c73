package broker

import (
	"encoding/json"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminHandler serves the admin REST API and the broker metrics.
//
//	GET    /admin/status
//	GET    /admin/queues
//	GET    /admin/queues/{name}
//	DELETE /admin/queues/{name}/messages
//	GET    /admin/sessions
//	DELETE /admin/sessions/{id}
//	PUT    /admin/users/{name}
//	GET    /metrics
func (b *Broker) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/status", b.handleStatus)

		r.Route("/queues", func(r chi.Router) {
			r.Get("/", b.handleListQueues)
			r.Get("/{name}", b.handleGetQueue)
			r.Delete("/{name}/messages", b.handlePurgeQueue)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", b.handleListSessions)
			r.Delete("/{id}", b.handleDropSession)
		})

		r.Put("/users/{name}", b.handlePutUser)
	})

	r.Handle("/metrics", promhttp.HandlerFor(b.metrics.registry, promhttp.HandlerOpts{}))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (b *Broker) handleStatus(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	sessions, queues := len(b.sessions), len(b.queues)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"server":     "fakebroker",
		"uptime":     time.Since(b.startedAt).String(),
		"started":    b.startedAt.Format(time.RFC3339),
		"sessions":   sessions,
		"queues":     queues,
		"auth":       b.auth.enabled(),
		"heartbeat":  b.heartbeat.String(),
		"goroutines": runtime.NumGoroutine(),
	})
}

func (b *Broker) handleListQueues(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, b.Queues())
}

func (b *Broker) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	info, ok := b.Queue(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "queue not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (b *Broker) handlePurgeQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	purged, ok := b.Purge(name)
	if !ok {
		writeError(w, http.StatusNotFound, "queue not found")
		return
	}
	b.logger.Info("queue purged", "queue", name, "messages", purged)
	writeJSON(w, http.StatusOK, map[string]any{"queue": name, "purged": purged})
}

func (b *Broker) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, b.Sessions())
}

func (b *Broker) handleDropSession(w http.ResponseWriter, r *http.Request) {
	if !b.Disconnect(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Broker) handlePutUser(w http.ResponseWriter, r *http.Request) {
	password, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	b.auth.addUser(chi.URLParam(r, "name"), string(password))
	w.WriteHeader(http.StatusNoContent)
}
