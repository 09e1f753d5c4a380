package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cvvkv/cvvkv/internal/kvstore"
	"github.com/cvvkv/cvvkv/internal/replica"
	"github.com/cvvkv/cvvkv/internal/version"
)

// server adapts a replica.Replica to an HTTP client API, generalizing
// the teacher's cmd/server/main.go handleExec/handleQuery/handleStatus
// handlers from SQL statements to key/value operations.
type server struct {
	replica   *replica.Replica
	store     *kvstore.Store
	replicaID string
}

type createRequest struct {
	Value string `json:"value"`
}

type updateRequest struct {
	Value             string            `json:"value"`
	DependentVersions map[string]uint64 `json:"dependent_versions"`
}

type deleteRequest struct {
	DependentVersions map[string]uint64 `json:"dependent_versions"`
}

type readResponse struct {
	Values            []string          `json:"values"`
	DependentVersions map[string]uint64 `json:"dependent_versions"`
}

func vectorToWire(vv *version.VersionVector) map[string]uint64 {
	out := make(map[string]uint64)
	if vv == nil {
		return out
	}
	for _, r := range vv.Replicas() {
		out[string(r)] = vv.GetVersion(r)
	}
	return out
}

func wireToVector(m map[string]uint64) *version.VersionVector {
	vv := version.NewVersionVector()
	for r, c := range m {
		vv.UpdateVersion(version.ReplicaID(r), c)
	}
	return vv
}

// handleKey routes /v1/keys/{key} by HTTP method: GET reads, POST
// creates, PUT updates, DELETE deletes.
func (s *server) handleKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/v1/keys/")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleRead(w, key)
	case http.MethodPost:
		s.handleCreate(w, r, key)
	case http.MethodPut:
		s.handleUpdate(w, r, key)
	case http.MethodDelete:
		s.handleDelete(w, r, key)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleRead(w http.ResponseWriter, key string) {
	rt, err := s.replica.Read(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	values := make([]string, len(rt.Values))
	for i, v := range rt.Values {
		values[i] = string(v)
	}
	writeJSON(w, http.StatusOK, readResponse{
		Values:            values,
		DependentVersions: vectorToWire(rt.DependentVersions),
	})
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request, key string) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ver, err := s.replica.Create(key, []byte(req.Value))
	if err != nil {
		writeReplicaError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"version": ver.String()})
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request, key string) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ver, err := s.replica.Update(key, []byte(req.Value), wireToVector(req.DependentVersions))
	if err != nil {
		writeReplicaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": ver.String()})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request, key string) {
	var req deleteRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // best effort; empty body means empty dependent versions
	}
	if err := s.replica.Delete(key, wireToVector(req.DependentVersions)); err != nil {
		writeReplicaError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	peer := strings.TrimPrefix(r.URL.Path, "/v1/sync/")
	if peer == "" {
		http.Error(w, "missing peer id", http.StatusBadRequest)
		return
	}
	s.replica.RequestSync(version.ReplicaID(peer))
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"replica_id": s.replicaID,
	})
}

func writeReplicaError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *replica.DuplicateKeyError:
		http.Error(w, err.Error(), http.StatusConflict)
	case *replica.NoSuchKeyError:
		http.Error(w, err.Error(), http.StatusNotFound)
	case *replica.ConcurrentUpdateError:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
