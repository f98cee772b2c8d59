// Package server exposes the job queue over HTTP and streams job events to
// websocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/stevecastle/autostereo/auth"
	"github.com/stevecastle/autostereo/jobqueue"
	"github.com/stevecastle/autostereo/stream"
)

// Server holds the handlers' dependencies. A nil Auth disables
// authentication.
type Server struct {
	Queue *jobqueue.Queue
	Auth  *auth.AuthService
	Hub   *stream.Hub
	// OutputDir, if set, anchors relative job output paths.
	OutputDir string
	// Running, if set, reports how many jobs are executing right now.
	Running func() int
}

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	Kind         string          `json:"kind"`
	Input        string          `json:"input"`
	Output       string          `json:"output"`
	Params       jobqueue.Params `json:"params"`
	Dependencies []string        `json:"dependencies"`
}

type userRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Handler returns the routed API with logging and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /login", s.route(s.login, RolePublic))
	mux.Handle("GET /healthz", s.route(s.health, RolePublic))
	mux.Handle("GET /jobs", s.route(s.listJobs, RoleUser))
	mux.Handle("POST /jobs", s.route(s.createJob, RoleUser))
	mux.Handle("POST /jobs/clear", s.route(s.clearJobs, RoleUser))
	mux.Handle("GET /jobs/{id}", s.route(s.getJob, RoleUser))
	mux.Handle("DELETE /jobs/{id}", s.route(s.cancelJob, RoleUser))
	mux.Handle("POST /jobs/{id}/copy", s.route(s.copyJob, RoleUser))
	mux.Handle("POST /jobs/{id}/remove", s.route(s.removeJob, RoleUser))
	mux.Handle("GET /users", s.route(s.listUsers, RoleAdmin))
	mux.Handle("POST /users", s.route(s.createUser, RoleAdmin))
	mux.Handle("DELETE /users/{name}", s.route(s.deleteUser, RoleAdmin))
	mux.Handle("GET /ws", s.route(s.Hub.ServeHTTP, RoleUser))
	return Logger(CORS(mux))
}

func (s *Server) route(h http.HandlerFunc, role AuthRole) http.Handler {
	if s.Auth == nil {
		return h
	}
	switch role {
	case RoleUser:
		return s.Auth.Middleware(h)
	case RoleAdmin:
		return s.Auth.Middleware(requireAdmin(h))
	}
	return h
}

// Run serves the API on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("Listening on %s", addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.Auth == nil {
		http.Error(w, "authentication disabled", http.StatusNotFound)
		return
	}
	var req loginRequest
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	token, err := s.Auth.Login(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCreds) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Queue.GetJobs())
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Output = s.outputPath(req.Output)
	req.Params.Artifact = s.outputPath(req.Params.Artifact)
	req.Params.Preview = s.outputPath(req.Params.Preview)
	id, err := s.Queue.AddJob(req.Kind, req.Input, req.Output, req.Params, req.Dependencies)
	if errors.Is(err, jobqueue.ErrInvalidJob) || errors.Is(err, jobqueue.ErrJobNotFound) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.Queue.GetJob(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	err := s.Queue.CancelJob(r.PathValue("id"))
	switch {
	case errors.Is(err, jobqueue.ErrJobNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, jobqueue.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Job cancelled successfully"))
}

func (s *Server) copyJob(w http.ResponseWriter, r *http.Request) {
	newID, err := s.Queue.CopyJob(r.PathValue("id"))
	if errors.Is(err, jobqueue.ErrJobNotFound) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": newID, "message": "Job copied successfully"})
}

// removeJob deletes a job outright, cancelling it first if it is running.
func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	err := s.Queue.RemoveJob(r.PathValue("id"))
	if errors.Is(err, jobqueue.ErrJobNotFound) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id"), "message": "Job removed"})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	if s.Auth == nil {
		http.Error(w, "authentication disabled", http.StatusNotFound)
		return
	}
	users, err := s.Auth.ListUsers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	if s.Auth == nil {
		http.Error(w, "authentication disabled", http.StatusNotFound)
		return
	}
	var req userRequest
	if err := readJSONBody(r, &req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}
	err := s.Auth.Register(req.Username, req.Password)
	if errors.Is(err, auth.ErrUserExists) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if s.Auth == nil {
		http.Error(w, "authentication disabled", http.StatusNotFound)
		return
	}
	name := r.PathValue("name")
	if name == auth.AdminUsername {
		http.Error(w, "cannot delete the admin user", http.StatusConflict)
		return
	}
	err := s.Auth.DeleteUser(name)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, auth.ErrLastUser):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearJobs(w http.ResponseWriter, r *http.Request) {
	n := s.Queue.ClearNonRunningJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"cleared_count": n,
		"message":       fmt.Sprintf("Cleared %d non-running jobs", n),
	})
}

// health reports websocket and job queue statistics.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	jobs := s.Queue.GetJobs()
	jobStats := map[string]int{
		"total":       len(jobs),
		"pending":     0,
		"in_progress": 0,
		"completed":   0,
		"cancelled":   0,
		"error":       0,
	}
	for _, job := range jobs {
		switch job.State {
		case jobqueue.StatePending:
			jobStats["pending"]++
		case jobqueue.StateInProgress:
			jobStats["in_progress"]++
		case jobqueue.StateCompleted:
			jobStats["completed"]++
		case jobqueue.StateCancelled:
			jobStats["cancelled"]++
		case jobqueue.StateError:
			jobStats["error"]++
		}
	}

	if s.Running != nil {
		jobStats["running"] = s.Running()
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"jobs":      jobStats,
	}
	if s.Hub != nil {
		health["stream"] = s.Hub.Stats()
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) outputPath(p string) string {
	if p == "" || s.OutputDir == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "s3://") {
		return p
	}
	return filepath.Join(s.OutputDir, p)
}

func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
