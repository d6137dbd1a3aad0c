package sshexplorer

import (
	"net/http"

	"github.com/alioygur/gores"
	"github.com/b1naryth1ef/sshexplorer/cache"
	"github.com/b1naryth1ef/sshexplorer/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type ListResponse struct {
	Path    string      `json:"path"`
	Headers []string    `json:"headers"`
	Rows    []cache.Row `json:"rows"`
}

// Server exposes the explorer's view of the remote tree over HTTP.
type Server struct {
	mux      *http.ServeMux
	explorer *Explorer
	log      *logrus.Entry
}

func NewServer(explorer *Explorer, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.WithField("component", "server")
	}
	s := &Server{mux: http.NewServeMux(), explorer: explorer, log: log}

	s.mux.HandleFunc("GET /ls", s.handleList)
	s.mux.HandleFunc("POST /expand", s.handleExpand)
	s.mux.HandleFunc("POST /refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /open", s.handleOpen)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.Handle("GET /metrics", metrics.Handler())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func queryPath(r *http.Request) string {
	p := r.URL.Query().Get("path")
	if p == "" {
		return "/"
	}
	return cache.Clean(p)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	p := queryPath(r)

	var rows []cache.Row
	found := false
	err := s.explorer.View(r.Context(), func(tree *cache.Tree) {
		id, err := tree.Resolve(p, false)
		if err != nil {
			return
		}
		found = true
		rows = tree.Rows(id)
	})
	if err != nil {
		gores.Error(w, http.StatusServiceUnavailable, "explorer unavailable")
		return
	}
	if !found {
		gores.Error(w, http.StatusNotFound, "not found")
		return
	}

	gores.JSON(w, http.StatusOK, ListResponse{Path: p, Headers: cache.Headers, Rows: rows})
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	if err := s.explorer.Expand(r.Context(), queryPath(r)); err != nil {
		gores.Error(w, http.StatusServiceUnavailable, "explorer unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.explorer.Refresh(r.Context(), queryPath(r)); err != nil {
		gores.Error(w, http.StatusServiceUnavailable, "explorer unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	err := s.explorer.Open(r.Context(), queryPath(r))
	switch {
	case err == nil:
		gores.JSON(w, http.StatusAccepted, map[string]string{"path": queryPath(r)})
	case errors.Is(err, ErrNotFound):
		gores.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrIsDirectory):
		gores.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTooLarge):
		gores.Error(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		s.log.Warnf("open %s: %v", queryPath(r), err)
		gores.Error(w, http.StatusServiceUnavailable, "explorer unavailable")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.explorer.Status(r.Context())
	if err != nil {
		gores.Error(w, http.StatusServiceUnavailable, "explorer unavailable")
		return
	}
	gores.JSON(w, http.StatusOK, status)
}
