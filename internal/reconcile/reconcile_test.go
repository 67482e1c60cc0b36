package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/edm-harvester/internal/triply"
	"github.com/animus-labs/edm-harvester/internal/triply/triplytest"
)

func newReconciler(t *testing.T) (*Reconciler, *triplytest.Server) {
	t.Helper()
	srv := triplytest.NewServer()
	t.Cleanup(srv.Close)
	client, err := triply.New(context.Background(), srv.Config("acme"))
	if err != nil {
		t.Fatalf("triply.New() err=%v", err)
	}
	return New(client, nil), srv
}

func TestEnsureQuery_Converges(t *testing.T) {
	r, srv := newReconciler(t)
	ds := triply.DatasetRef{ID: "ds-1", Owner: "acme", Name: "abc"}
	spec := QuerySpec{Text: "CONSTRUCT WHERE { ?s ?p ?o }", Dataset: ds}

	for i := 0; i < 2; i++ {
		q, err := r.EnsureQuery(context.Background(), "acme", "abc-edm", spec)
		if err != nil {
			t.Fatalf("EnsureQuery() err=%v", err)
		}
		if q.Text() != spec.Text || q.DatasetID() != "ds-1" {
			t.Fatalf("query=%+v", q)
		}
	}
	if srv.QueryCreates != 1 || srv.QueryDeletes != 0 {
		t.Fatalf("creates=%d deletes=%d", srv.QueryCreates, srv.QueryDeletes)
	}
}

func TestEnsureQuery_RecreatesOnChange(t *testing.T) {
	r, srv := newReconciler(t)
	ds := triply.DatasetRef{ID: "ds-1", Owner: "acme", Name: "abc"}
	ctx := context.Background()

	if _, err := r.EnsureQuery(ctx, "acme", "abc-edm", QuerySpec{Text: "old", Dataset: ds}); err != nil {
		t.Fatalf("EnsureQuery() err=%v", err)
	}
	if _, err := r.EnsureQuery(ctx, "acme", "abc-edm", QuerySpec{Text: "new", Dataset: ds}); err != nil {
		t.Fatalf("EnsureQuery() err=%v", err)
	}
	got, ok := srv.Query("acme", "abc-edm")
	if !ok || got.Text() != "new" {
		t.Fatalf("stored query=%+v ok=%v", got, ok)
	}
	if srv.QueryCreates != 2 || srv.QueryDeletes != 1 {
		t.Fatalf("creates=%d deletes=%d", srv.QueryCreates, srv.QueryDeletes)
	}

	moved := triply.DatasetRef{ID: "ds-2", Owner: "acme", Name: "other"}
	q, err := r.EnsureQuery(ctx, "acme", "abc-edm", QuerySpec{Text: "new", Dataset: moved})
	if err != nil {
		t.Fatalf("EnsureQuery() err=%v", err)
	}
	if q.DatasetID() != "ds-2" {
		t.Fatalf("DatasetID=%q", q.DatasetID())
	}
}

func TestEnsureQuery_ConcurrentSameName(t *testing.T) {
	r, srv := newReconciler(t)
	ds := triply.DatasetRef{ID: "ds-1", Owner: "acme", Name: "abc"}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.EnsureQuery(context.Background(), "acme", "shared", QuerySpec{Text: "q", Dataset: ds})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureQuery() err=%v", err)
		}
	}
	if srv.QueryCount() != 1 {
		t.Fatalf("QueryCount=%d", srv.QueryCount())
	}
	if n := lockCount(r); n != 0 {
		t.Fatalf("locks=%d after all calls returned", n)
	}
}

func lockCount(r *Reconciler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

func TestLock_ReleasedKeysAreForgotten(t *testing.T) {
	r := New(nil, nil)

	unlockA := r.lock("query:acme/a")
	for i := 0; i < 100; i++ {
		r.lock(fmt.Sprintf("query:acme/%d", i))()
	}
	if n := lockCount(r); n != 1 {
		t.Fatalf("locks=%d, want only the held key", n)
	}

	acquired := make(chan struct{})
	go func() {
		defer r.lock("query:acme/a")()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatalf("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("waiter never acquired the key")
	}
	deadline := time.Now().Add(time.Second)
	for lockCount(r) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("locks=%d after release", lockCount(r))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEnsureService(t *testing.T) {
	r, srv := newReconciler(t)
	ds := srv.PutDataset("acme", "abc", 1)
	ctx := context.Background()

	svc, err := r.EnsureService(ctx, ds, "", "")
	if err != nil {
		t.Fatalf("EnsureService() err=%v", err)
	}
	if svc.Name != DefaultServiceName || svc.Type != DefaultServiceType || svc.Endpoint == "" {
		t.Fatalf("service=%+v", svc)
	}
	if _, err := r.EnsureService(ctx, ds, "", ""); err != nil {
		t.Fatalf("EnsureService() err=%v", err)
	}
	if srv.ServiceCreate != 1 || srv.ServiceUpdate != 0 {
		t.Fatalf("creates=%d updates=%d", srv.ServiceCreate, srv.ServiceUpdate)
	}

	srv.PutService("acme", "abc", triply.Service{Name: DefaultServiceName, Type: DefaultServiceType, OutOfSync: true})
	svc, err = r.EnsureService(ctx, ds, "", "")
	if err != nil {
		t.Fatalf("EnsureService() err=%v", err)
	}
	if !svc.UpToDate() || srv.ServiceUpdate != 1 {
		t.Fatalf("service=%+v updates=%d", svc, srv.ServiceUpdate)
	}
}

func TestEnsureService_RemoteFailure(t *testing.T) {
	r, srv := newReconciler(t)
	ds := srv.PutDataset("acme", "abc", 1)
	srv.FailDatasets = true

	_, err := r.EnsureService(context.Background(), ds, "", "")
	var apiErr *triply.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("EnsureService() err=%v, want *APIError", err)
	}
}
