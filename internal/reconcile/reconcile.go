// Package reconcile converges named remote resources (saved queries and
// query services) on a TriplyDB instance to a desired state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/animus-labs/edm-harvester/internal/triply"
)

const (
	DefaultServiceName = "default"
	DefaultServiceType = "sparql"
)

// Remote is the subset of the TriplyDB client the reconciler drives.
type Remote interface {
	GetQuery(ctx context.Context, owner, name string) (triply.Query, error)
	CreateQuery(ctx context.Context, owner string, q triply.NewQuery) (triply.Query, error)
	DeleteQuery(ctx context.Context, owner, name string) error
	GetService(ctx context.Context, ds triply.DatasetRef, name string) (triply.Service, error)
	CreateService(ctx context.Context, ds triply.DatasetRef, name, kind string) (triply.Service, error)
	UpdateService(ctx context.Context, ds triply.DatasetRef, name string) (triply.Service, error)
}

// QuerySpec is the desired state of a saved query.
type QuerySpec struct {
	Text       string
	Dataset    triply.DatasetRef
	OutputMode string
	Variables  []triply.QueryVariable
}

type Reconciler struct {
	remote Remote
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is dropped from the map once no caller holds or waits for it.
type keyLock struct {
	sync.Mutex
	refs int
}

func New(remote Remote, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{remote: remote, logger: logger, locks: map[string]*keyLock{}}
}

// lock serializes calls that target the same remote name.
func (r *Reconciler) lock(key string) func() {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

// EnsureQuery makes the saved query owner/name match spec. An existing query
// with different text or a different dataset is deleted and recreated.
func (r *Reconciler) EnsureQuery(ctx context.Context, owner, name string, spec QuerySpec) (triply.Query, error) {
	defer r.lock("query:" + owner + "/" + name)()

	current, err := r.remote.GetQuery(ctx, owner, name)
	switch {
	case err == nil:
		if current.Text() == spec.Text && current.DatasetID() == spec.Dataset.ID {
			return current, nil
		}
		r.logger.Info("saved query changed, recreating", "owner", owner, "query", name)
		if err := r.remote.DeleteQuery(ctx, owner, name); err != nil && !errors.Is(err, triply.ErrNotFound) {
			r.logger.Warn("delete stale query failed", "owner", owner, "query", name, "error", err)
		}
	case errors.Is(err, triply.ErrNotFound):
	default:
		return triply.Query{}, fmt.Errorf("get query %s: %w", name, err)
	}

	created, err := r.remote.CreateQuery(ctx, owner, triply.NewQuery{
		Name:       name,
		Text:       spec.Text,
		DatasetID:  spec.Dataset.ID,
		OutputMode: spec.OutputMode,
		Variables:  spec.Variables,
	})
	if err != nil {
		return triply.Query{}, err
	}
	return created, nil
}

// EnsureService makes sure ds has an up-to-date service called name. An empty
// name or kind selects the defaults.
func (r *Reconciler) EnsureService(ctx context.Context, ds triply.DatasetRef, name, kind string) (triply.Service, error) {
	if name == "" {
		name = DefaultServiceName
	}
	if kind == "" {
		kind = DefaultServiceType
	}
	defer r.lock("service:" + ds.Owner + "/" + ds.Name + "/" + name)()

	svc, err := r.remote.GetService(ctx, ds, name)
	switch {
	case err == nil:
		if svc.UpToDate() {
			return svc, nil
		}
		r.logger.Info("service out of sync, updating", "dataset", ds.Name, "service", name)
		updated, err := r.remote.UpdateService(ctx, ds, name)
		if err != nil {
			return triply.Service{}, fmt.Errorf("update service %s: %w", name, err)
		}
		return updated, nil
	case errors.Is(err, triply.ErrNotFound):
		created, err := r.remote.CreateService(ctx, ds, name, kind)
		if errors.Is(err, triply.ErrAlreadyExists) {
			return r.remote.GetService(ctx, ds, name)
		}
		if err != nil {
			return triply.Service{}, fmt.Errorf("create service %s: %w", name, err)
		}
		return created, nil
	default:
		return triply.Service{}, fmt.Errorf("get service %s: %w", name, err)
	}
}
