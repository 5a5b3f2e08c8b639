package storage

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// IPFSClient is a thin shim over the go-ipfs HTTP API. Only the endpoints
// the node needs are wrapped: block/get, pin/add, pin/rm and repo/gc.
type IPFSClient struct {
	apiURL string
	client *http.Client
}

// NewIPFSClient returns a client against the daemon API at apiURL, e.g.
// "http://127.0.0.1:5001".
func NewIPFSClient(apiURL string) *IPFSClient {
	return &IPFSClient{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{},
	}
}

func (c *IPFSClient) call(ctx context.Context, endpoint, arg string) ([]byte, error) {
	u := fmt.Sprintf("%s/api/v0/%s", c.apiURL, endpoint)
	if arg != "" {
		u += "?arg=" + url.QueryEscape(arg)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "ipfs %s failed", endpoint)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "ipfs %s read failed", endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("ipfs %s returned %d: %s", endpoint, resp.StatusCode, body)
	}
	return body, nil
}

// BlockGet fetches the raw bytes of a CID.
func (c *IPFSClient) BlockGet(ctx context.Context, cid string) ([]byte, error) {
	return c.call(ctx, "block/get", cid)
}

// PinAdd pins a CID on the daemon.
func (c *IPFSClient) PinAdd(ctx context.Context, cid string) error {
	_, err := c.call(ctx, "pin/add", cid)
	return err
}

// PinRm unpins a CID. An already-unpinned CID is not an error.
func (c *IPFSClient) PinRm(ctx context.Context, cid string) error {
	_, err := c.call(ctx, "pin/rm", cid)
	if err != nil && strings.Contains(err.Error(), "not pinned") {
		return nil
	}
	return err
}

// RepoGC triggers a garbage collection run on the daemon repo.
func (c *IPFSClient) RepoGC(ctx context.Context) error {
	_, err := c.call(ctx, "repo/gc", "")
	return err
}
