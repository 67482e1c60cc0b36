// Package triplytest provides an in-memory TriplyDB API for tests.
package triplytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/edm-harvester/internal/triply"
)

type dataset struct {
	ref      triply.DatasetRef
	services map[string]triply.Service
	assets   map[string][]byte
}

// Server records every mutation so tests can assert on remote state.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	datasets map[string]*dataset
	queries  map[string]triply.Query
	jobs     map[string]triply.Job

	// FailDatasets makes every dataset endpoint answer 500.
	FailDatasets bool
	// Run produces the response of a saved query run. vars holds the
	// non-paging query parameters. The default returns an empty body.
	Run func(q triply.Query, page int, vars map[string]string) []byte

	QueryCreates  int
	QueryDeletes  int
	ServiceCreate int
	ServiceUpdate int
	ImportedURLs  []string
	Uploads       map[string][]byte
}

func NewServer() *Server {
	s := &Server{
		datasets: map[string]*dataset{},
		queries:  map[string]triply.Query{},
		jobs:     map[string]triply.Job{},
		Uploads:  map[string][]byte{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /datasets/{owner}/{name}", s.getDataset)
	mux.HandleFunc("POST /datasets/{owner}", s.createDataset)
	mux.HandleFunc("POST /datasets/{owner}/{name}/jobs", s.createJob)
	mux.HandleFunc("GET /datasets/{owner}/{name}/jobs/{id}", s.getJob)
	mux.HandleFunc("POST /datasets/{owner}/{name}/assets", s.uploadAsset)
	mux.HandleFunc("DELETE /datasets/{owner}/{name}/graphs", s.deleteGraph)
	mux.HandleFunc("GET /datasets/{owner}/{name}/services/{svc}", s.getService)
	mux.HandleFunc("POST /datasets/{owner}/{name}/services", s.createService)
	mux.HandleFunc("POST /datasets/{owner}/{name}/services/{svc}", s.updateService)
	mux.HandleFunc("GET /queries/{owner}/{name}", s.getQuery)
	mux.HandleFunc("POST /queries/{owner}", s.createQuery)
	mux.HandleFunc("DELETE /queries/{owner}/{name}", s.deleteQuery)
	mux.HandleFunc("GET /queries/{owner}/{name}/run", s.runQuery)
	s.Server = httptest.NewServer(mux)
	return s
}

// Config returns a client configuration pointing at the server.
func (s *Server) Config(account string) triply.Config {
	return triply.Config{
		BaseURL:      s.URL,
		Token:        "test-token",
		Account:      account,
		PollInterval: time.Millisecond,
	}
}

// PutDataset seeds a dataset with the given graph count.
func (s *Server) PutDataset(owner, name string, graphs int) triply.DatasetRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.newDatasetLocked(owner, name)
	ds.ref.Graphs = graphs
	return ds.ref
}

// PutService seeds a service on an existing dataset.
func (s *Server) PutService(owner, dsName string, svc triply.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.datasets[owner+"/"+dsName]
	if ds == nil {
		ds = s.newDatasetLocked(owner, dsName)
	}
	ds.services[svc.Name] = svc
}

// PutQuery seeds a saved query.
func (s *Server) PutQuery(owner string, q triply.Query) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[owner+"/"+q.Name] = q
}

// Query returns a saved query and whether it exists.
func (s *Server) Query(owner, name string) (triply.Query, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[owner+"/"+name]
	return q, ok
}

// QueryCount returns the number of saved queries.
func (s *Server) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// Dataset returns a dataset and whether it exists.
func (s *Server) Dataset(owner, name string) (triply.DatasetRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[owner+"/"+name]
	if !ok {
		return triply.DatasetRef{}, false
	}
	return ds.ref, true
}

func (s *Server) newDatasetLocked(owner, name string) *dataset {
	s.nextID++
	ds := &dataset{
		ref:      triply.DatasetRef{ID: fmt.Sprintf("ds-%d", s.nextID), Owner: owner, Name: name},
		services: map[string]triply.Service{},
		assets:   map[string][]byte{},
	}
	s.datasets[owner+"/"+name] = ds
	return ds
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *dataset {
	if s.FailDatasets {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return nil
	}
	ds := s.datasets[r.PathValue("owner")+"/"+r.PathValue("name")]
	if ds == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil
	}
	return ds
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds := s.lookup(w, r); ds != nil {
		writeJSON(w, http.StatusOK, ds.ref)
	}
}

func (s *Server) createDataset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDatasets {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	owner := r.PathValue("owner")
	if _, ok := s.datasets[owner+"/"+in.Name]; ok {
		http.Error(w, "exists", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, s.newDatasetLocked(owner, in.Name).ref)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.lookup(w, r)
	if ds == nil {
		return
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		s.Uploads[ds.ref.Name+"/"+header.Filename] = data
	} else {
		var in struct {
			DownloadURLs []string `json:"downloadUrls"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		s.ImportedURLs = append(s.ImportedURLs, in.DownloadURLs...)
	}
	ds.ref.Graphs++
	s.nextID++
	job := triply.Job{ID: "job-" + strconv.Itoa(s.nextID), Status: "importing"}
	s.jobs[job.ID] = job
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[r.PathValue("id")]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	job.Status = "finished"
	s.jobs[job.ID] = job
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) uploadAsset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.lookup(w, r)
	if ds == nil {
		return
	}
	data, _ := io.ReadAll(r.Body)
	ds.assets[r.URL.Query().Get("fileName")] = data
	writeJSON(w, http.StatusCreated, map[string]any{"fileName": r.URL.Query().Get("fileName")})
}

func (s *Server) deleteGraph(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds := s.lookup(w, r); ds != nil {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.lookup(w, r)
	if ds == nil {
		return
	}
	svc, ok := ds.services[r.PathValue("svc")]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) createService(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.lookup(w, r)
	if ds == nil {
		return
	}
	var in struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if _, ok := ds.services[in.Name]; ok {
		http.Error(w, "exists", http.StatusConflict)
		return
	}
	s.ServiceCreate++
	svc := triply.Service{
		ID:       "svc-" + in.Name,
		Name:     in.Name,
		Type:     in.Type,
		Status:   "running",
		Endpoint: s.URL + "/datasets/" + ds.ref.Owner + "/" + ds.ref.Name + "/services/" + in.Name + "/sparql",
	}
	ds.services[in.Name] = svc
	writeJSON(w, http.StatusCreated, svc)
}

func (s *Server) updateService(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.lookup(w, r)
	if ds == nil {
		return
	}
	svc, ok := ds.services[r.PathValue("svc")]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.ServiceUpdate++
	svc.OutOfSync = false
	svc.Status = "updating"
	ds.services[svc.Name] = svc
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[r.PathValue("owner")+"/"+r.PathValue("name")]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) createQuery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var in struct {
		Name          string `json:"name"`
		AccessLevel   string `json:"accessLevel"`
		Dataset       string `json:"dataset"`
		RequestConfig struct {
			Payload struct {
				Query string `json:"query"`
			} `json:"payload"`
		} `json:"requestConfig"`
		RenderConfig struct {
			Output string `json:"output"`
		} `json:"renderConfig"`
		Variables []triply.QueryVariable `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	key := r.PathValue("owner") + "/" + in.Name
	if _, ok := s.queries[key]; ok {
		http.Error(w, "exists", http.StatusConflict)
		return
	}
	s.QueryCreates++
	s.nextID++
	stored := map[string]any{
		"id":            "q-" + strconv.Itoa(s.nextID),
		"name":          in.Name,
		"accessLevel":   in.AccessLevel,
		"requestConfig": in.RequestConfig,
		"renderConfig":  in.RenderConfig,
		"variables":     in.Variables,
	}
	if in.Dataset != "" {
		stored["dataset"] = map[string]string{"id": in.Dataset}
	}
	raw, _ := json.Marshal(stored)
	var q triply.Query
	if err := json.Unmarshal(raw, &q); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.queries[key] = q
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) deleteQuery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.PathValue("owner") + "/" + r.PathValue("name")
	if _, ok := s.queries[key]; !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.QueryDeletes++
	delete(s.queries, key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	q, ok := s.queries[r.PathValue("owner")+"/"+r.PathValue("name")]
	run := s.Run
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	params := r.URL.Query()
	page, _ := strconv.Atoi(params.Get("page"))
	vars := map[string]string{}
	for k := range params {
		if k != "page" && k != "pageSize" {
			vars[k] = params.Get(k)
		}
	}
	w.Header().Set("Content-Type", "application/n-triples")
	if run == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write(run(q, page, vars))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
