package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// mainnetGenesis anchors simulated chain heights; epochs are 30s.
var mainnetGenesis = time.Date(2020, 8, 24, 22, 0, 0, 0, time.UTC)

const epochDuration = 30 * time.Second

type LotusVersion struct {
	Version    string `json:"Version"`
	APIVersion int    `json:"APIVersion"`
	BlockDelay int    `json:"BlockDelay"`
	Source     Source `json:"source"`
}

type CidRef struct {
	Root string `json:"/"`
}

type TipSet struct {
	Cids   []CidRef `json:"Cids"`
	Height int64    `json:"Height"`
	Source Source   `json:"source"`
}

type PeerInfo struct {
	ID    string   `json:"ID"`
	Addrs []string `json:"Addrs"`
}

// LotusClient talks JSON-RPC to a Lotus node with CLI and simulated fallbacks.
type LotusClient struct {
	url    string
	token  string
	http   *http.Client
	chain  *fallbackChain
	nextID atomic.Int64
}

func NewLotusClient(apiURL, token string, opts ClientOptions) *LotusClient {
	if opts.Binary == "" {
		opts.Binary = "lotus"
	}
	return &LotusClient{
		url:   strings.TrimRight(apiURL, "/"),
		token: token,
		http:  &http.Client{},
		chain: newFallbackChain("lotus", opts),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// Call invokes Filecoin.<method>, falling back to the lotus CLI and then
// simulation when enabled.
func (c *LotusClient) Call(ctx context.Context, method string, params []interface{}, out interface{}) (Source, error) {
	full := "Filecoin." + method
	if params == nil {
		params = []interface{}{}
	}
	primary := func(ctx context.Context) error { return c.rpc(ctx, full, params, out) }

	var cli *cliCommand
	if cmd, ok := lotusCLI[method]; ok {
		cli = &cmd
	}
	simulate := func() (interface{}, bool) { return simulateLotus(method, c.chain.opts.Now()) }
	return c.chain.call(ctx, full, primary, cli, simulate, out)
}

func (c *LotusClient) rpc(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID.Add(1)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/rpc/v0", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
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
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if out == nil || len(rr.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rr.Result, out)
}

func (c *LotusClient) Version(ctx context.Context) (*LotusVersion, error) {
	var v LotusVersion
	src, err := c.Call(ctx, "Version", nil, &v)
	if err != nil {
		return nil, err
	}
	v.Source = src
	return &v, nil
}

func (c *LotusClient) ChainHead(ctx context.Context) (*TipSet, error) {
	var ts TipSet
	src, err := c.Call(ctx, "ChainHead", nil, &ts)
	if err != nil {
		return nil, err
	}
	ts.Source = src
	return &ts, nil
}

func (c *LotusClient) NetPeers(ctx context.Context) ([]PeerInfo, Source, error) {
	var peers []PeerInfo
	src, err := c.Call(ctx, "NetPeers", nil, &peers)
	return peers, src, err
}

func (c *LotusClient) WalletList(ctx context.Context) ([]string, Source, error) {
	var addrs []string
	src, err := c.Call(ctx, "WalletList", nil, &addrs)
	return addrs, src, err
}

func (c *LotusClient) WalletDefaultAddress(ctx context.Context) (string, Source, error) {
	var addr string
	src, err := c.Call(ctx, "WalletDefaultAddress", nil, &addr)
	return addr, src, err
}

func (c *LotusClient) ID(ctx context.Context) (string, Source, error) {
	var id string
	src, err := c.Call(ctx, "ID", nil, &id)
	return id, src, err
}

var lotusCLI = map[string]cliCommand{
	"Version": {
		args: []string{"version"},
		parse: func(out []byte) (interface{}, error) {
			for _, line := range lines(out) {
				if v, ok := cutPrefixFold(line, "Daemon:"); ok {
					return LotusVersion{Version: v}, nil
				}
			}
			return nil, fmt.Errorf("no daemon version in output")
		},
	},
	"ChainHead": {
		args: []string{"chain", "head"},
		parse: func(out []byte) (interface{}, error) {
			ts := TipSet{}
			for _, line := range lines(out) {
				ts.Cids = append(ts.Cids, CidRef{Root: line})
			}
			if len(ts.Cids) == 0 {
				return nil, fmt.Errorf("empty chain head")
			}
			return ts, nil
		},
	},
	"NetPeers": {
		args: []string{"net", "peers"},
		parse: func(out []byte) (interface{}, error) {
			peers := []PeerInfo{}
			for _, line := range lines(out) {
				id, addrs, _ := strings.Cut(line, ",")
				p := PeerInfo{ID: strings.TrimSpace(id)}
				addrs = strings.Trim(strings.TrimSpace(addrs), "[]")
				if addrs != "" {
					p.Addrs = strings.Fields(addrs)
				}
				peers = append(peers, p)
			}
			return peers, nil
		},
	},
	"WalletList": {
		args: []string{"wallet", "list", "--addr-only"},
		parse: func(out []byte) (interface{}, error) {
			addrs := lines(out)
			if addrs == nil {
				addrs = []string{}
			}
			return addrs, nil
		},
	},
	"WalletDefaultAddress": {
		args:  []string{"wallet", "default"},
		parse: firstLine,
	},
	"ID": {
		args:  []string{"net", "id"},
		parse: firstLine,
	},
}

// simulateLotus returns plausible data for a method, flagged by the caller as simulated.
func simulateLotus(method string, now time.Time) (interface{}, bool) {
	switch method {
	case "Version":
		return LotusVersion{Version: "1.28.0+simulated", APIVersion: 0x10100, BlockDelay: 30}, true
	case "ChainHead":
		height := int64(now.Sub(mainnetGenesis) / epochDuration)
		return TipSet{
			Cids:   []CidRef{{Root: fmt.Sprintf("bafy2bzacesimulated%d", height)}},
			Height: height,
		}, true
	case "NetPeers":
		return []PeerInfo{}, true
	case "WalletList":
		return []string{"f1simulatedwalletaddress"}, true
	case "WalletDefaultAddress":
		return "f1simulatedwalletaddress", true
	case "ID":
		return "12D3KooWSimulatedLotusPeer", true
	}
	return nil, false
}

func lines(out []byte) []string {
	var res []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			res = append(res, l)
		}
	}
	return res
}

func firstLine(out []byte) (interface{}, error) {
	l := lines(out)
	if len(l) == 0 {
		return nil, fmt.Errorf("empty output")
	}
	return l[0], nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
