package ipfs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammed-shakir/geotemporal-query/internal/store"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
)

func fakeNode(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/key/list", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"Keys":[{"Name":"self","Id":"k51self"},{"Name":"cpc_precip-daily","Id":"k51cpc"}]}`))
	})
	mux.HandleFunc("/api/v0/name/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("arg") != "k51cpc" {
			http.Error(w, "unknown name", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"Path":"/ipfs/bafyroot"}`))
	})
	mux.HandleFunc("/ipfs/bafyroot/.zmetadata", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenResolvesKeyAndReadsThroughGateway(t *testing.T) {
	srv := fakeNode(t)
	o, err := New(srv.URL+"/api/v0", srv.URL, srv.Client(), nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := o.Open(context.Background(), "cpc_precip-daily")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Get(context.Background(), ".zmetadata")
	if err != nil || string(b) != "{}" {
		t.Fatalf("get: %q %v", b, err)
	}
	if _, err := s.Get(context.Background(), "precip/0.0.0"); !errors.Is(err, zarr.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestOpenUnknownDataset(t *testing.T) {
	srv := fakeNode(t)
	o, err := New(srv.URL, srv.URL, srv.Client(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Open(context.Background(), "nope"); !errors.Is(err, store.ErrDatasetNotFound) {
		t.Fatalf("want dataset not found, got %v", err)
	}
}

func TestOpenResolveFailure(t *testing.T) {
	srv := fakeNode(t)
	o, err := New(srv.URL, srv.URL, srv.Client(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Open(context.Background(), "self"); err == nil || errors.Is(err, store.ErrDatasetNotFound) {
		t.Fatalf("want a resolve error, got %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not a url", "http://gw", nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
