package triply

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Query is a saved query as stored by the server.
type Query struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	AccessLevel   string        `json:"accessLevel"`
	Dataset       *queryDataset `json:"dataset,omitempty"`
	RequestConfig struct {
		Payload struct {
			Query string `json:"query"`
		} `json:"payload"`
	} `json:"requestConfig"`
	RenderConfig struct {
		Output string `json:"output"`
	} `json:"renderConfig"`
	Variables []QueryVariable `json:"variables,omitempty"`
}

type queryDataset struct {
	ID string `json:"id"`
}

// Text returns the stored query text.
func (q Query) Text() string {
	return q.RequestConfig.Payload.Query
}

// DatasetID returns the id of the dataset the query runs against.
func (q Query) DatasetID() string {
	if q.Dataset == nil {
		return ""
	}
	return q.Dataset.ID
}

type QueryVariable struct {
	Name     string `json:"name"`
	TermType string `json:"termType"`
	Required bool   `json:"required,omitempty"`
}

// NewQuery describes a saved query to create.
type NewQuery struct {
	Name       string
	Text       string
	DatasetID  string
	OutputMode string
	Variables  []QueryVariable
}

type createQueryRequest struct {
	Name          string          `json:"name"`
	AccessLevel   string          `json:"accessLevel"`
	Dataset       string          `json:"dataset"`
	RequestConfig map[string]any  `json:"requestConfig"`
	RenderConfig  map[string]any  `json:"renderConfig"`
	Variables     []QueryVariable `json:"variables,omitempty"`
}

func (c *Client) GetQuery(ctx context.Context, owner string, name string) (Query, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/queries"+escape(owner, name), nil)
	if err != nil {
		return Query{}, err
	}
	var out Query
	if err := c.do(req, &out); err != nil {
		return Query{}, err
	}
	return out, nil
}

func (c *Client) CreateQuery(ctx context.Context, owner string, q NewQuery) (Query, error) {
	output := q.OutputMode
	if output == "" {
		output = "response"
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/queries"+escape(owner), createQueryRequest{
		Name:          q.Name,
		AccessLevel:   "internal",
		Dataset:       q.DatasetID,
		RequestConfig: map[string]any{"payload": map[string]any{"query": q.Text}},
		RenderConfig:  map[string]any{"output": output},
		Variables:     q.Variables,
	})
	if err != nil {
		return Query{}, err
	}
	var out Query
	if err := c.do(req, &out); err != nil {
		return Query{}, fmt.Errorf("create query %s: %w", q.Name, err)
	}
	return out, nil
}

func (c *Client) DeleteQuery(ctx context.Context, owner string, name string) error {
	req, err := c.newJSONRequest(ctx, http.MethodDelete, "/queries"+escape(owner, name), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// RunOptions controls one page of a saved query run.
type RunOptions struct {
	Accept   string
	Page     int
	PageSize int
	// Variables binds query variables declared on the saved query.
	Variables map[string]string
}

// RunQuery executes a saved query and returns one page of the raw response
// in the requested media type. Pages start at 1.
func (c *Client) RunQuery(ctx context.Context, owner string, name string, opts RunOptions) ([]byte, error) {
	params := url.Values{}
	for k, v := range opts.Variables {
		params.Set(k, v)
	}
	if opts.Page > 0 {
		params.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(opts.PageSize))
	}
	path := "/queries" + escape(owner, name, "run")
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	req, err := c.newJSONRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}
	var body []byte
	if err := c.do(req, &body); err != nil {
		return nil, fmt.Errorf("run query %s: %w", name, err)
	}
	return body, nil
}
