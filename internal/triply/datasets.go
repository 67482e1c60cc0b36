package triply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// DatasetRef identifies a dataset. ID is assigned by the server and is what
// saved queries refer to.
type DatasetRef struct {
	ID      string `json:"id"`
	Owner   string `json:"-"`
	Name    string `json:"name"`
	Graphs  int    `json:"graphCount"`
	Triples int64  `json:"statements"`
}

type createDatasetRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	AccessLevel string `json:"accessLevel"`
}

func (c *Client) GetDataset(ctx context.Context, owner string, name string) (DatasetRef, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/datasets"+escape(owner, name), nil)
	if err != nil {
		return DatasetRef{}, err
	}
	var out DatasetRef
	if err := c.do(req, &out); err != nil {
		return DatasetRef{}, err
	}
	out.Owner = owner
	return out, nil
}

func (c *Client) CreateDataset(ctx context.Context, owner string, name string, displayName string) (DatasetRef, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/datasets"+escape(owner), createDatasetRequest{
		Name:        name,
		DisplayName: displayName,
		AccessLevel: "internal",
	})
	if err != nil {
		return DatasetRef{}, err
	}
	var out DatasetRef
	if err := c.do(req, &out); err != nil {
		return DatasetRef{}, err
	}
	out.Owner = owner
	return out, nil
}

// EnsureDataset returns the named dataset, creating it when absent.
func (c *Client) EnsureDataset(ctx context.Context, owner string, name string, displayName string) (DatasetRef, error) {
	ds, err := c.GetDataset(ctx, owner, name)
	if err == nil {
		return ds, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return DatasetRef{}, err
	}
	ds, err = c.CreateDataset(ctx, owner, name, displayName)
	if errors.Is(err, ErrAlreadyExists) {
		return c.GetDataset(ctx, owner, name)
	}
	return ds, err
}

type Job struct {
	ID     string `json:"jobId"`
	Status string `json:"status"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

const (
	jobFinished = "finished"
	jobError    = "error"
	jobCanceled = "canceled"
)

type importURLRequest struct {
	Type         string   `json:"type"`
	DownloadURLs []string `json:"downloadUrls"`
}

// ImportFromURL starts a server-side download of sourceURL into ds and waits
// for the job to finish.
func (c *Client) ImportFromURL(ctx context.Context, ds DatasetRef, sourceURL string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/datasets"+escape(ds.Owner, ds.Name, "jobs"), importURLRequest{
		Type:         "download",
		DownloadURLs: []string{sourceURL},
	})
	if err != nil {
		return err
	}
	var job Job
	if err := c.do(req, &job); err != nil {
		return fmt.Errorf("start import: %w", err)
	}
	return c.waitJob(ctx, ds, job)
}

// ImportFile uploads an RDF document into ds and waits for the import job.
// Existing graphs with the same names are replaced.
func (c *Client) ImportFile(ctx context.Context, ds DatasetRef, filename string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("type", "upload")
	_ = mw.WriteField("overwriteAll", "false")
	_ = mw.WriteField("mergeGraphs", "false")
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/datasets"+escape(ds.Owner, ds.Name, "jobs"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var job Job
	if err := c.do(req, &job); err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	return c.waitJob(ctx, ds, job)
}

func (c *Client) waitJob(ctx context.Context, ds DatasetRef, job Job) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		switch job.Status {
		case jobFinished:
			return nil
		case jobError, jobCanceled:
			return fmt.Errorf("import job %s %s: %s", job.ID, job.Status, job.Error.Message)
		}
		if job.ID == "" {
			return errors.New("import job has no id")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		req, err := c.newJSONRequest(ctx, http.MethodGet, "/datasets"+escape(ds.Owner, ds.Name, "jobs", job.ID), nil)
		if err != nil {
			return err
		}
		if err := c.do(req, &job); err != nil {
			return fmt.Errorf("poll import job: %w", err)
		}
	}
}

// UploadAsset attaches a file to ds, replacing an asset of the same name.
func (c *Client) UploadAsset(ctx context.Context, ds DatasetRef, filename string, body io.Reader) error {
	path := "/datasets" + escape(ds.Owner, ds.Name, "assets") + "?fileName=" + url.QueryEscape(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("upload asset %s: %w", filename, err)
	}
	return nil
}

// DeleteGraph removes a graph from ds. A missing graph is not an error.
func (c *Client) DeleteGraph(ctx context.Context, ds DatasetRef, graph string) error {
	path := "/datasets" + escape(ds.Owner, ds.Name, "graphs") + "?graphName=" + url.QueryEscape(graph)
	req, err := c.newJSONRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
