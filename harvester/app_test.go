package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/harvest"
	"github.com/animus-labs/edm-harvester/internal/rdf"
	"github.com/animus-labs/edm-harvester/internal/sparql"
)

const ianaMediaTypes = "http://www.iana.org/assignments/media-types/"

// registryServer plays the dataset registry, a Turtle dump and a SPARQL
// endpoint serving the same dump.
type registryServer struct {
	*httptest.Server
	store  *rdf.Store
	engine *sparql.Engine
}

func newRegistryServer(t *testing.T) *registryServer {
	t.Helper()
	quads, err := rdf.ParseString(sampleDump, rdf.FormatTurtle)
	if err != nil {
		t.Fatalf("parse dump: %v", err)
	}
	rs := &registryServer{store: rdf.NewStore(), engine: sparql.NewEngine(nil, nil)}
	rs.store.AddQuads(quads...)

	mux := http.NewServeMux()
	mux.HandleFunc("/registry", rs.registry)
	mux.HandleFunc("/sparql", rs.endpoint)
	mux.HandleFunc("/dumps/rise.ttl", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/turtle")
		w.Header().Set("Content-Length", strconv.Itoa(len(sampleDump)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = io.WriteString(w, sampleDump)
	})
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func (rs *registryServer) datasets() []map[string]any {
	return []map[string]any{
		{
			"dataset": uri("https://data.example.org/dataset/rise"),
			"url":     uri(rs.URL + "/dumps/rise.ttl"),
			"format":  uri(ianaMediaTypes + "text/turtle"),
			"title":   map[string]string{"type": "literal", "value": "Rise", "xml:lang": "en"},
		},
		{
			"dataset": uri("https://data.example.org/dataset/endpoint"),
			"url":     uri(rs.URL + "/sparql"),
			"format":  uri(ianaMediaTypes + "application/sparql-query"),
		},
		{
			"dataset": uri("https://data.example.org/dataset/broken"),
		},
	}
}

func uri(v string) map[string]string {
	return map[string]string{"type": "uri", "value": v}
}

func (rs *registryServer) registry(w http.ResponseWriter, r *http.Request) {
	query := r.PostFormValue("query")
	if !strings.Contains(query, "CONSTRUCT") {
		w.Header().Set("Content-Type", "application/sparql-results+json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"head":    map[string]any{"vars": []string{"dataset", "url", "format", "title"}},
			"results": map[string]any{"bindings": rs.datasets()},
		})
		return
	}
	w.Header().Set("Content-Type", "application/n-triples")
	for _, ds := range rs.datasets() {
		iri := ds["dataset"].(map[string]string)["value"]
		if !strings.Contains(query, "<"+iri+">") {
			continue
		}
		fmt.Fprintf(w, "<%s> <%s> <http://www.w3.org/ns/dcat#Dataset> .\n", iri, rdf.RDFType)
		fmt.Fprintf(w, "<%s> <http://purl.org/dc/terms/license> <https://creativecommons.org/publicdomain/zero/1.0/> .\n", iri)
	}
}

func (rs *registryServer) endpoint(w http.ResponseWriter, r *http.Request) {
	query := r.PostFormValue("query")
	src := sparql.Local{Store: rs.store}
	if strings.Contains(query, "CONSTRUCT") {
		quads, err := rs.engine.Construct(r.Context(), query, src)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/n-triples")
		_ = rdf.Serialize(w, quads, rdf.FormatNTriples)
		return
	}
	res, err := rs.engine.Select(r.Context(), query, src)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var bindings []map[string]map[string]string
	for {
		row, ok := res.Next()
		if !ok {
			break
		}
		b := map[string]map[string]string{}
		for name, term := range row {
			switch term.Kind {
			case rdf.KindIRI:
				b[name] = uri(term.Value)
			case rdf.KindLiteral:
				b[name] = map[string]string{"type": "literal", "value": term.Value}
			}
		}
		bindings = append(bindings, b)
	}
	w.Header().Set("Content-Type", "application/sparql-results+json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"head":    map[string]any{"vars": res.Vars},
		"results": map[string]any{"bindings": bindings},
	})
}

func TestNewApp_DryRunOverSamplePipeline(t *testing.T) {
	clearHarvestEnv(t)
	srv := newRegistryServer(t)
	cfg := Config{
		RegistryEndpoint:   srv.URL + "/registry",
		PipelineFile:       "../pipeline/pipeline.yaml",
		CacheDir:           t.TempDir(),
		CacheMemoryEntries: 16,
		InMemoryMaxBytes:   1 << 20,
		HTTPTimeout:        5 * time.Second,
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newApp() err=%v", err)
	}
	t.Cleanup(a.Close)
	if a.db != nil || a.bucket != nil {
		t.Fatalf("unexpected ledger or bucket without configuration")
	}

	report, err := a.orchestrator.Run(context.Background(), harvest.Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if len(report.Datasets) != 3 {
		t.Fatalf("datasets=%+v", report.Datasets)
	}
	for i, want := range []struct {
		iri  string
		tier domain.Tier
	}{
		{"https://data.example.org/dataset/rise", domain.TierInMemory},
		{"https://data.example.org/dataset/endpoint", domain.TierExternal},
	} {
		got := report.Datasets[i]
		if got.IRI != want.iri || got.State != domain.StatePublished || got.Tier != want.tier {
			t.Fatalf("datasets[%d]=%+v", i, got)
		}
		// Two records through two per-record templates.
		if got.Records != 4 || got.Triples == 0 || !strings.HasPrefix(got.PublishedAs, "dry-run:") {
			t.Fatalf("datasets[%d]=%+v", i, got)
		}
	}
	broken := report.Datasets[2]
	if broken.State != domain.StateSkippedInvalid || broken.Step != domain.StepMetadata {
		t.Fatalf("broken=%+v", broken)
	}
	if report.Totals[domain.StatePublished] != 2 || report.Totals[domain.StateSkippedInvalid] != 1 {
		t.Fatalf("totals=%v", report.Totals)
	}
	// Each metadata graph lacks a title and a distribution. The EDM output
	// only raises warnings.
	if report.Violations != 6 {
		t.Fatalf("violations=%d", report.Violations)
	}
	if report.Error != "" {
		t.Fatalf("report error=%q", report.Error)
	}
}
