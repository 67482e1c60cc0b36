package transform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/sparql"
)

const PipelineSchemaV1 = "edm.harvest.pipeline.v1"

const DefaultPageSize = 10000

// Mode selects how a template is instantiated.
type Mode string

const (
	// ModePerRecord runs the template once per ?id returned by the records
	// query.
	ModePerRecord Mode = "per_record"
	// ModeWhole runs the template once over the whole endpoint.
	ModeWhole Mode = "whole"
)

// PipelineFile is the on-disk YAML document. Paths are relative to the file.
type PipelineFile struct {
	Schema        string          `yaml:"schema"`
	CatalogQuery  string          `yaml:"catalog_query"`
	MetadataQuery string          `yaml:"metadata_query"`
	RecordsQuery  string          `yaml:"records_query,omitempty"`
	DatasetShapes string          `yaml:"dataset_shapes"`
	EDMShapes     string          `yaml:"edm_shapes"`
	PageSize      int             `yaml:"page_size,omitempty"`
	Transforms    []TransformFile `yaml:"transforms"`
}

type TransformFile struct {
	Name  string   `yaml:"name"`
	File  string   `yaml:"file"`
	Mode  string   `yaml:"mode,omitempty"`
	Tiers []string `yaml:"tiers,omitempty"`
	// Records overrides the pipeline-wide records query for this template.
	Records string `yaml:"records,omitempty"`
}

// Template is a loaded transform query.
type Template struct {
	Name    string
	Query   string
	Mode    Mode
	Tiers   []domain.Tier
	Records string
}

// Applies reports whether the template runs for datasets resolved to tier.
// A template without tiers applies to all of them.
func (t Template) Applies(tier domain.Tier) bool {
	if len(t.Tiers) == 0 {
		return true
	}
	for _, candidate := range t.Tiers {
		if candidate == tier {
			return true
		}
	}
	return false
}

// Pipeline is a validated pipeline file with every query text loaded.
type Pipeline struct {
	CatalogQuery      string
	MetadataQuery     string
	DatasetShapesPath string
	EDMShapesPath     string
	PageSize          int
	Templates         []Template
}

func ParsePipelineFile(input []byte) (PipelineFile, error) {
	var pf PipelineFile
	if err := yaml.Unmarshal(input, &pf); err != nil {
		return PipelineFile{}, fmt.Errorf("decode pipeline: %w", err)
	}
	if err := pf.Validate(); err != nil {
		return PipelineFile{}, err
	}
	return pf, nil
}

func (p PipelineFile) Validate() error {
	issues := &ValidationError{}
	if strings.TrimSpace(p.Schema) != PipelineSchemaV1 {
		issues.Add(fmt.Sprintf("schema must be %q", PipelineSchemaV1))
	}
	if strings.TrimSpace(p.CatalogQuery) == "" {
		issues.Add("catalog_query is required")
	}
	if strings.TrimSpace(p.MetadataQuery) == "" {
		issues.Add("metadata_query is required")
	}
	if strings.TrimSpace(p.DatasetShapes) == "" {
		issues.Add("dataset_shapes is required")
	}
	if strings.TrimSpace(p.EDMShapes) == "" {
		issues.Add("edm_shapes is required")
	}
	if p.PageSize < 0 {
		issues.Add("page_size must be positive")
	}
	if len(p.Transforms) == 0 {
		issues.Add("transforms must be non-empty")
	}

	seen := make(map[string]struct{}, len(p.Transforms))
	for i, tf := range p.Transforms {
		name := strings.TrimSpace(tf.Name)
		if name == "" {
			issues.Add(fmt.Sprintf("transforms[%d].name is required", i))
			continue
		}
		if _, ok := seen[name]; ok {
			issues.Add(fmt.Sprintf("duplicate transform name %q", name))
		}
		seen[name] = struct{}{}

		if strings.TrimSpace(tf.File) == "" {
			issues.Add(fmt.Sprintf("transforms[%s].file is required", name))
		}
		mode, err := parseMode(tf.Mode)
		if err != nil {
			issues.Add(fmt.Sprintf("transforms[%s].mode: %v", name, err))
		}
		if mode == ModePerRecord && strings.TrimSpace(tf.Records) == "" && strings.TrimSpace(p.RecordsQuery) == "" {
			issues.Add(fmt.Sprintf("transforms[%s] runs per record but no records query is configured", name))
		}
		for _, raw := range tf.Tiers {
			if _, err := domain.ParseTier(raw); err != nil {
				issues.Add(fmt.Sprintf("transforms[%s].tiers: %v", name, err))
			}
		}
	}
	return issues.OrNil()
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModePerRecord:
		return ModePerRecord, nil
	case ModeWhole:
		return ModeWhole, nil
	default:
		return "", fmt.Errorf("unsupported mode %q", raw)
	}
}

// LoadPipeline reads and validates the pipeline file at path and every query
// file it names. A missing file is an error.
func LoadPipeline(path string) (*Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	pf, err := ParsePipelineFile(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	issues := &ValidationError{}
	read := func(p string) string {
		data, err := os.ReadFile(resolve(p))
		if err != nil {
			issues.Add(err.Error())
			return ""
		}
		return string(data)
	}
	out := &Pipeline{
		CatalogQuery:      read(pf.CatalogQuery),
		MetadataQuery:     read(pf.MetadataQuery),
		DatasetShapesPath: resolve(pf.DatasetShapes),
		EDMShapesPath:     resolve(pf.EDMShapes),
		PageSize:          pf.PageSize,
	}
	if out.PageSize == 0 {
		out.PageSize = DefaultPageSize
	}
	// Templates bound per dataset or per record must mention ?id, or every
	// instantiation would run the same query.
	needsID := func(what, query string) {
		if query != "" && !sparql.HasVar(query, sparql.IDVar) {
			issues.Add(fmt.Sprintf("%s never uses ?%s", what, sparql.IDVar))
		}
	}
	needsID("metadata_query", out.MetadataQuery)
	for _, p := range []string{out.DatasetShapesPath, out.EDMShapesPath} {
		if _, err := os.Stat(p); err != nil {
			issues.Add(err.Error())
		}
	}

	records := map[string]string{}
	for _, tf := range pf.Transforms {
		mode, _ := parseMode(tf.Mode)
		tmpl := Template{
			Name:  strings.TrimSpace(tf.Name),
			Query: read(tf.File),
			Mode:  mode,
		}
		for _, raw := range tf.Tiers {
			tier, _ := domain.ParseTier(raw)
			tmpl.Tiers = append(tmpl.Tiers, tier)
		}
		if mode == ModePerRecord {
			file := tf.Records
			if strings.TrimSpace(file) == "" {
				file = pf.RecordsQuery
			}
			if _, ok := records[file]; !ok {
				records[file] = read(file)
				needsID("records query "+strings.TrimSpace(file), records[file])
			}
			tmpl.Records = records[file]
			needsID(fmt.Sprintf("transforms[%s]", tmpl.Name), tmpl.Query)
		}
		out.Templates = append(out.Templates, tmpl)
	}
	if err := issues.OrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
