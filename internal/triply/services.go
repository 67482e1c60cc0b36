package triply

import (
	"context"
	"net/http"
)

// Service is a query service running over a dataset.
type Service struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	OutOfSync bool   `json:"outOfSync"`
	Endpoint  string `json:"endpoint"`
}

// UpToDate reports whether the service reflects the current dataset content.
func (s Service) UpToDate() bool {
	return !s.OutOfSync
}

type createServiceRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type updateServiceRequest struct {
	Sync bool `json:"sync"`
}

func (c *Client) GetService(ctx context.Context, ds DatasetRef, name string) (Service, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/datasets"+escape(ds.Owner, ds.Name, "services", name), nil)
	if err != nil {
		return Service{}, err
	}
	var out Service
	if err := c.do(req, &out); err != nil {
		return Service{}, err
	}
	return out, nil
}

func (c *Client) CreateService(ctx context.Context, ds DatasetRef, name string, kind string) (Service, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/datasets"+escape(ds.Owner, ds.Name, "services"), createServiceRequest{
		Name: name,
		Type: kind,
	})
	if err != nil {
		return Service{}, err
	}
	var out Service
	if err := c.do(req, &out); err != nil {
		return Service{}, err
	}
	return out, nil
}

// UpdateService asks the server to resynchronize the service with its
// dataset.
func (c *Client) UpdateService(ctx context.Context, ds DatasetRef, name string) (Service, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/datasets"+escape(ds.Owner, ds.Name, "services", name), updateServiceRequest{Sync: true})
	if err != nil {
		return Service{}, err
	}
	var out Service
	if err := c.do(req, &out); err != nil {
		return Service{}, err
	}
	return out, nil
}
