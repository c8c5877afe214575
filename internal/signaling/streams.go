package signaling

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/lanikai/rtsprelay/internal/store"
)

// Catalog is the set of streams viewers may start.
type Catalog interface {
	List() ([]store.Stream, error)
	Get(id uint) (*store.Stream, error)
	Create(st *store.Stream) error
	Update(id uint, name, url string) error
	SetActive(id uint, active bool) error
	Delete(id uint) error
}

type streamRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	IsActive *bool  `json:"is_active"`
}

// ServeCatalog exposes stream management under /api/streams/. Deactivating
// or deleting a stream also stops its session.
func (s *Server) ServeCatalog(catalog Catalog) {
	api := &catalogAPI{catalog: catalog, controller: s.controller}
	s.router.HandleFunc("GET /api/streams/{$}", api.list)
	s.router.HandleFunc("POST /api/streams/{$}", api.create)
	s.router.HandleFunc("GET /api/streams/{id}/{$}", api.get)
	s.router.HandleFunc("PUT /api/streams/{id}/{$}", api.update)
	s.router.HandleFunc("DELETE /api/streams/{id}/{$}", api.remove)
	s.router.HandleFunc("POST /api/streams/{id}/activate/", api.activate)
	s.router.HandleFunc("POST /api/streams/{id}/deactivate/", api.deactivate)
}

type catalogAPI struct {
	catalog    Catalog
	controller Controller
}

func (a *catalogAPI) list(w http.ResponseWriter, r *http.Request) {
	streams, err := a.catalog.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if streams == nil {
		streams = []store.Stream{}
	}
	writeJSON(w, http.StatusOK, streams)
}

func (a *catalogAPI) create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStream(w, r)
	if !ok {
		return
	}
	st := &store.Stream{Name: req.Name, URL: req.URL, IsActive: req.IsActive != nil && *req.IsActive}
	if err := a.catalog.Create(st); err != nil {
		writeError(w, err)
		return
	}
	log.Info("Stream %d (%q) created", st.ID, st.Name)
	writeJSON(w, http.StatusCreated, st)
}

func (a *catalogAPI) get(w http.ResponseWriter, r *http.Request) {
	id, ok := streamID(w, r)
	if !ok {
		return
	}
	st, err := a.catalog.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *catalogAPI) update(w http.ResponseWriter, r *http.Request) {
	id, ok := streamID(w, r)
	if !ok {
		return
	}
	req, ok := decodeStream(w, r)
	if !ok {
		return
	}
	if err := a.catalog.Update(id, req.Name, req.URL); err != nil {
		writeError(w, err)
		return
	}
	if req.IsActive != nil {
		if !a.setActive(w, id, *req.IsActive) {
			return
		}
	}
	a.get(w, r)
}

func (a *catalogAPI) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := streamID(w, r)
	if !ok {
		return
	}
	if err := a.catalog.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	a.controller.Stop(store.SessionID(id))
	log.Info("Stream %d deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *catalogAPI) activate(w http.ResponseWriter, r *http.Request) {
	if id, ok := streamID(w, r); ok && a.setActive(w, id, true) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "stream activated"})
	}
}

func (a *catalogAPI) deactivate(w http.ResponseWriter, r *http.Request) {
	if id, ok := streamID(w, r); ok && a.setActive(w, id, false) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "stream deactivated"})
	}
}

func (a *catalogAPI) setActive(w http.ResponseWriter, id uint, active bool) bool {
	if err := a.catalog.SetActive(id, active); err != nil {
		writeError(w, err)
		return false
	}
	if !active {
		a.controller.Stop(store.SessionID(id))
	}
	log.Info("Stream %d active=%v", id, active)
	return true
}

func streamID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := store.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return 0, false
	}
	return id, true
}

func decodeStream(w http.ResponseWriter, r *http.Request) (streamRequest, bool) {
	var req streamRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandSize))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return req, false
	}
	return req, true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidURL):
		status = http.StatusBadRequest
	default:
		log.Warn("%v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response: %v", err)
	}
}
