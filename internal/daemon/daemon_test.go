package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/logger"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

type fakeRunner struct {
	found  bool
	output map[string]string
	calls  []string
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	if !f.found {
		return "", exec.ErrNotFound
	}
	return "/usr/local/bin/" + file, nil
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
	out, ok := f.output[cmd]
	if !ok {
		return nil, errors.New("exit status 1")
	}
	return []byte(out), nil
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(30))
}

func TestRetryPolicy_Do(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := fastRetry.Do(ctx, func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = fastRetry.Do(ctx, func(context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusBadRequest}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "4xx is not retried")

	calls = 0
	err = fastRetry.Do(ctx, func(context.Context) error {
		calls++
		return &TransportError{Err: errors.New("connection refused")}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}.Do(cctx, func(context.Context) error {
		return &StatusError{StatusCode: http.StatusTooManyRequests}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&StatusError{StatusCode: 502}))
	assert.True(t, IsRetryable(&StatusError{StatusCode: 429}))
	assert.False(t, IsRetryable(&StatusError{StatusCode: 404}))
	assert.False(t, IsRetryable(&RPCError{Code: -32601}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&TransportError{Err: &url.Error{Op: "Post", URL: "http://lotus", Err: context.DeadlineExceeded}}))
}

func TestLotusClient_RetriesTimedOutAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"Version":"1.28.0+mainnet"}}`))
	}))
	defer srv.Close()

	c := NewLotusClient(srv.URL, "", ClientOptions{
		Retry:   fastRetry,
		Timeout: 50 * time.Millisecond,
		Runner:  &fakeRunner{},
	})
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceRPC, v.Source)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits), "two hung attempts, then success")
}

func TestRetryPolicy_StopsOnParentDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}.Do(ctx, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return &TransportError{Err: ctx.Err()}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func lotusServer(t *testing.T, failures int32, handler func(req rpcRequest) interface{}) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/rpc/v0", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if n <= failures {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": handler(req),
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestLotusClient_RPC(t *testing.T) {
	srv, hits := lotusServer(t, 1, func(req rpcRequest) interface{} {
		switch req.Method {
		case "Filecoin.Version":
			return map[string]interface{}{"Version": "1.28.0+mainnet", "APIVersion": 65792, "BlockDelay": 30}
		case "Filecoin.ChainHead":
			return map[string]interface{}{"Cids": []map[string]string{{"/": "bafyhead"}}, "Height": 4242}
		case "Filecoin.WalletList":
			return []string{"f1abc", "f1def"}
		}
		return nil
	})

	c := NewLotusClient(srv.URL, "tok", ClientOptions{Retry: fastRetry})
	ctx := context.Background()

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.28.0+mainnet", v.Version)
	assert.Equal(t, SourceRPC, v.Source)
	assert.EqualValues(t, 2, atomic.LoadInt32(hits), "one 502 then success")

	head, err := c.ChainHead(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4242, head.Height)
	assert.Equal(t, "bafyhead", head.Cids[0].Root)

	addrs, src, err := c.WalletList(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRPC, src)
	assert.Equal(t, []string{"f1abc", "f1def"}, addrs)
}

func TestLotusClient_RPCErrorFallsBackToCLI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer srv.Close()

	runner := &fakeRunner{found: true, output: map[string]string{
		"lotus version":                  "Daemon:  1.28.0+mainnet+git.abc\nLocal: lotus version 1.28.0\n",
		"lotus wallet list --addr-only": "f1aaa\nf1bbb\n",
	}}
	c := NewLotusClient(srv.URL, "tok", ClientOptions{Retry: fastRetry, Runner: runner})

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceCLI, v.Source)
	assert.Equal(t, "1.28.0+mainnet+git.abc", v.Version)

	addrs, src, err := c.WalletList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceCLI, src)
	assert.Equal(t, []string{"f1aaa", "f1bbb"}, addrs)
}

func TestLotusClient_SimulationWhenUnreachable(t *testing.T) {
	now := mainnetGenesis.Add(100 * epochDuration)
	c := NewLotusClient("http://127.0.0.1:1", "", ClientOptions{
		Retry:      RetryPolicy{MaxAttempts: 1},
		Runner:     &fakeRunner{found: false},
		Simulation: true,
		Now:        func() time.Time { return now },
	})

	head, err := c.ChainHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceSimulated, head.Source)
	assert.EqualValues(t, 100, head.Height)

	id, src, err := c.ID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceSimulated, src)
	assert.NotEmpty(t, id)
}

func TestLotusClient_UnavailableWithoutSimulation(t *testing.T) {
	runner := &fakeRunner{found: true, output: map[string]string{}}
	c := NewLotusClient("http://127.0.0.1:1", "", ClientOptions{Retry: RetryPolicy{MaxAttempts: 1}, Runner: runner})

	_, err := c.Version(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, derrors.ErrDaemonUnavailable))
	assert.Equal(t, []string{"lotus version"}, runner.calls, "cli tried before giving up")
}

func TestIPFSClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/api/v0/version":
			_, _ = w.Write([]byte(`{"Version":"0.29.0","Commit":"abc","Repo":"15","System":"amd64/linux","Golang":"go1.22"}`))
		case "/api/v0/repo/stat":
			_, _ = w.Write([]byte(`{"RepoSize":1024,"StorageMax":2048,"NumObjects":3,"RepoPath":"/data/ipfs","Version":"fs-repo@15"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"Message":"boom","Code":0,"Type":"error"}`))
		}
	}))
	defer srv.Close()

	c := NewIPFSClient(srv.URL, ClientOptions{Retry: fastRetry, Runner: &fakeRunner{}})
	ctx := context.Background()

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.29.0", v.Version)
	assert.Equal(t, SourceRPC, v.Source)

	rs, err := c.RepoStat(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rs.NumObjects)

	_, err = c.ID(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestIPFSClient_CLIFallback(t *testing.T) {
	runner := &fakeRunner{found: true, output: map[string]string{
		"ipfs version --number": "0.29.0\n",
		"ipfs id":               `{"ID":"12D3KooWcli","Addresses":["/ip4/127.0.0.1/tcp/4001"],"AgentVersion":"kubo/0.29.0/"}`,
	}}
	c := NewIPFSClient("http://127.0.0.1:1", ClientOptions{Retry: RetryPolicy{MaxAttempts: 1}, Runner: runner})

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceCLI, v.Source)
	assert.Equal(t, "0.29.0", v.Version)

	id, err := c.ID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12D3KooWcli", id.ID)
	assert.Len(t, id.Addresses, 1)
}

func TestProcess_Simulated(t *testing.T) {
	p := LotusProcess("lotus", "/tmp/lotus", true, nil)
	require.NoError(t, p.Start(context.Background()))
	st := p.Status()
	assert.True(t, st.Simulated)
	assert.False(t, st.Running)
	require.NoError(t, p.Stop(context.Background()))
}

func TestProcess_StartStop(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}
	p := NewProcess(ProcessConfig{Name: "sleeper", Binary: "sleep", Args: []string{"30"}, Grace: 2 * time.Second})
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	st := p.Status()
	assert.True(t, st.Running)
	assert.NotZero(t, st.PID)

	err := p.Start(ctx)
	assert.True(t, errors.Is(err, derrors.ErrConflict))

	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.Status().Running)

	err = p.Stop(ctx)
	assert.True(t, errors.Is(err, derrors.ErrConflict))
}

func TestProcess_MissingBinary(t *testing.T) {
	p := NewProcess(ProcessConfig{Name: "ghost", Binary: "definitely-not-a-real-daemon-binary"})
	err := p.Start(context.Background())
	assert.True(t, errors.Is(err, derrors.ErrDaemonUnavailable))
}

func TestLotusClient_NodeInfo(t *testing.T) {
	srv, _ := lotusServer(t, 0, func(req rpcRequest) interface{} {
		switch req.Method {
		case "Filecoin.ID":
			return "12D3KooWnode"
		case "Filecoin.ChainHead":
			return map[string]interface{}{"Cids": []map[string]string{{"/": "bafyhead"}}, "Height": 10}
		case "Filecoin.NetPeers":
			return []map[string]interface{}{{"ID": "p1"}, {"ID": "p2"}}
		case "Filecoin.WalletList":
			return []string{"f1abc"}
		case "Filecoin.WalletDefaultAddress":
			return "f1abc"
		}
		return nil
	})
	c := NewLotusClient(srv.URL, "tok", ClientOptions{Retry: fastRetry})

	info, err := c.NodeInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12D3KooWnode", info.PeerID)
	assert.EqualValues(t, 10, info.Head.Height)
	assert.Equal(t, 2, info.Peers)
	assert.Equal(t, []string{"f1abc"}, info.Wallets)
	assert.Equal(t, "f1abc", info.DefaultWallet)
	assert.Equal(t, SourceRPC, info.Source)
}

func TestNodeInfo_Simulated(t *testing.T) {
	opts := ClientOptions{
		Retry:      RetryPolicy{MaxAttempts: 1},
		Runner:     &fakeRunner{found: false},
		Simulation: true,
	}

	lotus, err := NewLotusClient("http://127.0.0.1:1", "", opts).NodeInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceSimulated, lotus.Source)
	assert.Equal(t, "f1simulatedwalletaddress", lotus.DefaultWallet)
	assert.Zero(t, lotus.Peers)

	ipfs, err := NewIPFSClient("http://127.0.0.1:1", opts).NodeInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceSimulated, ipfs.Source)
	assert.Equal(t, "12D3KooWSimulatedIPFSPeer", ipfs.Identity.ID)
	assert.Equal(t, "simulated", ipfs.Repo.RepoPath)
}

func TestWeakestSource(t *testing.T) {
	assert.Equal(t, SourceRPC, weakest(SourceRPC, SourceRPC))
	assert.Equal(t, SourceCLI, weakest(SourceRPC, SourceCLI))
	assert.Equal(t, SourceSimulated, weakest(SourceCLI, SourceSimulated, SourceRPC))
}

func TestFallbackEmitsEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	runner := &fakeRunner{found: true, output: map[string]string{"ipfs version --number": "0.29.0\n"}}
	c := NewIPFSClient("http://127.0.0.1:1", ClientOptions{
		Retry:      RetryPolicy{MaxAttempts: 1},
		Runner:     runner,
		Simulation: true,
		Events:     logger.NewWithCore(core, nil),
	})

	_, err := c.Version(context.Background())
	require.NoError(t, err)
	_, err = c.RepoStat(context.Background())
	require.NoError(t, err)

	events := logs.FilterField(zap.String("event_code", string(logger.EventDaemonFallback))).All()
	require.Len(t, events, 2)
	assert.Equal(t, zapcore.WarnLevel, events[0].Level)
	assert.Equal(t, "ipfs version served by cli", events[0].Message)
	assert.Equal(t, "ipfs repo/stat served by simulated", events[1].Message)
}
