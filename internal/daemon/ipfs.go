package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type IPFSVersion struct {
	Version string `json:"Version"`
	Commit  string `json:"Commit"`
	Repo    string `json:"Repo"`
	System  string `json:"System"`
	Golang  string `json:"Golang"`
	Source  Source `json:"source"`
}

type IPFSIdentity struct {
	ID              string   `json:"ID"`
	PublicKey       string   `json:"PublicKey"`
	Addresses       []string `json:"Addresses"`
	AgentVersion    string   `json:"AgentVersion"`
	ProtocolVersion string   `json:"ProtocolVersion"`
	Source          Source   `json:"source"`
}

type RepoStat struct {
	RepoSize   uint64 `json:"RepoSize"`
	StorageMax uint64 `json:"StorageMax"`
	NumObjects uint64 `json:"NumObjects"`
	RepoPath   string `json:"RepoPath"`
	Version    string `json:"Version"`
	Source     Source `json:"source"`
}

// IPFSClient talks to the Kubo HTTP RPC API.
type IPFSClient struct {
	url   string
	http  *http.Client
	chain *fallbackChain
}

func NewIPFSClient(apiURL string, opts ClientOptions) *IPFSClient {
	if opts.Binary == "" {
		opts.Binary = "ipfs"
	}
	return &IPFSClient{
		url:   strings.TrimRight(apiURL, "/"),
		http:  &http.Client{},
		chain: newFallbackChain("ipfs", opts),
	}
}

// Call POSTs /api/v0/<cmd> with the given query args.
func (c *IPFSClient) Call(ctx context.Context, cmd string, args url.Values, out interface{}) (Source, error) {
	primary := func(ctx context.Context) error { return c.post(ctx, cmd, args, out) }
	var cli *cliCommand
	if cc, ok := ipfsCLI[cmd]; ok {
		cli = &cc
	}
	simulate := func() (interface{}, bool) { return simulateIPFS(cmd) }
	return c.chain.call(ctx, cmd, primary, cli, simulate, out)
}

func (c *IPFSClient) post(ctx context.Context, cmd string, args url.Values, out interface{}) error {
	endpoint := c.url + "/api/v0/" + cmd
	if len(args) > 0 {
		endpoint += "?" + args.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"Message"`
		}
		body := truncate(string(raw), 256)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			body = apiErr.Message
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", cmd, err)
	}
	return nil
}

func (c *IPFSClient) Version(ctx context.Context) (*IPFSVersion, error) {
	var v IPFSVersion
	src, err := c.Call(ctx, "version", nil, &v)
	if err != nil {
		return nil, err
	}
	v.Source = src
	return &v, nil
}

func (c *IPFSClient) ID(ctx context.Context) (*IPFSIdentity, error) {
	var id IPFSIdentity
	src, err := c.Call(ctx, "id", nil, &id)
	if err != nil {
		return nil, err
	}
	id.Source = src
	return &id, nil
}

func (c *IPFSClient) RepoStat(ctx context.Context) (*RepoStat, error) {
	var rs RepoStat
	src, err := c.Call(ctx, "repo/stat", nil, &rs)
	if err != nil {
		return nil, err
	}
	rs.Source = src
	return &rs, nil
}

func parseJSONOutput(out []byte) (interface{}, error) {
	var v map[string]interface{}
	if err := json.Unmarshal(out, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var ipfsCLI = map[string]cliCommand{
	"version": {
		args: []string{"version", "--number"},
		parse: func(out []byte) (interface{}, error) {
			v, err := firstLine(out)
			if err != nil {
				return nil, err
			}
			return IPFSVersion{Version: v.(string)}, nil
		},
	},
	"id": {
		args:  []string{"id"},
		parse: parseJSONOutput,
	},
	"repo/stat": {
		args:  []string{"repo", "stat", "--enc=json"},
		parse: parseJSONOutput,
	},
}

func simulateIPFS(cmd string) (interface{}, bool) {
	switch cmd {
	case "version":
		return IPFSVersion{Version: "0.29.0-simulated", Repo: "15", System: "simulated"}, true
	case "id":
		return IPFSIdentity{
			ID:              "12D3KooWSimulatedIPFSPeer",
			Addresses:       []string{},
			AgentVersion:    "kubo/0.29.0/simulated",
			ProtocolVersion: "ipfs/0.1.0",
		}, true
	case "repo/stat":
		return RepoStat{StorageMax: 10 << 30, RepoPath: "simulated", Version: "fs-repo@15"}, true
	}
	return nil, false
}
