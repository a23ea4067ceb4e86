// Package ipfs serves datasets published under IPNS keys of an IPFS node.
// The dataset name is looked up in the node's key list, the key is
// resolved to its current root and keys are read through the gateway.
package ipfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/mohammed-shakir/geotemporal-query/internal/core/config"
	"github.com/mohammed-shakir/geotemporal-query/internal/core/httpclient"
	"github.com/mohammed-shakir/geotemporal-query/internal/store"
	"github.com/mohammed-shakir/geotemporal-query/internal/zarr"
)

const Backend = "ipfs"

func init() {
	store.Register(Backend, func(cfg config.StoreCfg, logger *slog.Logger) (store.Opener, error) {
		return New(cfg.IPFSAPIURL, cfg.IPFSGatewayURL, httpclient.NewOutbound(httpclient.WithTimeout(2*time.Minute)), logger)
	})
}

type Opener struct {
	sh      *shell.Shell
	gateway string
	hc      *http.Client
	logger  *slog.Logger
}

// New talks to the node API at api (with or without the /api/v0 suffix)
// and reads content through gateway.
func New(api, gateway string, hc *http.Client, logger *slog.Logger) (*Opener, error) {
	for _, u := range []string{api, gateway} {
		if _, err := url.ParseRequestURI(u); err != nil {
			return nil, fmt.Errorf("ipfs: invalid url %q: %w", u, err)
		}
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	api = strings.TrimSuffix(strings.TrimRight(api, "/"), "/api/v0")
	return &Opener{
		sh:      shell.NewShellWithClient(api, hc),
		gateway: strings.TrimRight(gateway, "/"),
		hc:      hc,
		logger:  logger,
	}, nil
}

func (o *Opener) Backend() string { return Backend }

// Open resolves the IPNS key on every call, so a new publication is seen
// as soon as the dataset is reopened.
func (o *Opener) Open(ctx context.Context, dataset string) (zarr.Store, error) {
	id, err := o.keyID(ctx, dataset)
	if err != nil {
		return nil, err
	}
	cid, err := o.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	o.logger.DebugContext(ctx, "dataset resolved", "dataset", dataset, "ipns", id, "cid", cid)
	return &Store{base: o.gateway + "/ipfs/" + cid, hc: o.hc}, nil
}

func (o *Opener) keyID(ctx context.Context, dataset string) (string, error) {
	keys, err := o.sh.KeyList(ctx)
	if err != nil {
		return "", fmt.Errorf("ipfs key/list: %w", err)
	}
	for _, k := range keys {
		if k.Name == dataset {
			return k.Id, nil
		}
	}
	return "", fmt.Errorf("%w: no IPNS key named %q", store.ErrDatasetNotFound, dataset)
}

func (o *Opener) resolve(ctx context.Context, id string) (string, error) {
	var out struct {
		Path string `json:"Path"`
	}
	if err := o.sh.Request("name/resolve", id).Exec(ctx, &out); err != nil {
		return "", fmt.Errorf("ipfs name/resolve %s: %w", id, err)
	}
	parts := strings.Split(strings.TrimRight(out.Path, "/"), "/")
	cid := parts[len(parts)-1]
	if cid == "" {
		return "", fmt.Errorf("ipfs: name/resolve %s returned %q", id, out.Path)
	}
	return cid, nil
}

// Store reads keys of one immutable root through the gateway.
type Store struct {
	base string
	hc   *http.Client
}

func (s *Store) Type() string { return Backend }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	u := s.base + "/" + strings.TrimLeft(key, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", zarr.ErrNotFound, key)
	}
	return nil, fmt.Errorf("get %s: status %d", key, resp.StatusCode)
}
