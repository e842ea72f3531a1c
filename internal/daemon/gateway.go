package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/metrics"
)

// Source says which path produced a result.
type Source string

const (
	SourceRPC       Source = "rpc"
	SourceCLI       Source = "cli"
	SourceSimulated Source = "simulated"
)

// CommandRunner runs a daemon's CLI. Tests replace it.
type CommandRunner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// cliCommand maps one API method onto a CLI invocation and a parser for its stdout.
type cliCommand struct {
	args  []string
	parse func(out []byte) (interface{}, error)
}

// ClientOptions is shared by the Lotus and IPFS clients.
type ClientOptions struct {
	Retry      RetryPolicy
	Timeout    time.Duration
	Binary     string
	Simulation bool
	Runner     CommandRunner
	Logger     *zap.Logger
	// Events receives a DAEMON_FALLBACK entry whenever the API is bypassed.
	Events  *logger.Logger
	Metrics *metrics.Metrics
	// Now is used to derive simulated values such as chain height.
	Now func() time.Time
}

// fallbackChain runs primary with retries, then the CLI, then simulation.
type fallbackChain struct {
	daemon string
	opts   ClientOptions
}

func newFallbackChain(daemon string, opts ClientOptions) *fallbackChain {
	if opts.Runner == nil {
		opts.Runner = execRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	return &fallbackChain{daemon: daemon, opts: opts}
}

func (f *fallbackChain) call(ctx context.Context, method string, primary func(ctx context.Context) error,
	cli *cliCommand, simulate func() (interface{}, bool), out interface{}) (Source, error) {
	log := f.opts.Logger.With(zap.String("daemon", f.daemon), zap.String("method", method))

	attempts := 0
	err := f.opts.Retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			f.opts.Metrics.ObserveDaemon(f.daemon, "retry")
		}
		reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
		return primary(reqCtx)
	})
	if err == nil {
		f.opts.Metrics.ObserveDaemon(f.daemon, "ok")
		return SourceRPC, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	primaryErr := err
	log.Warn("daemon api call failed", zap.Int("attempts", attempts), zap.Error(primaryErr))

	if cli != nil && f.opts.Binary != "" {
		if _, lookErr := f.opts.Runner.LookPath(f.opts.Binary); lookErr == nil {
			cliCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
			stdout, runErr := f.opts.Runner.Run(cliCtx, f.opts.Binary, cli.args...)
			cancel()
			if runErr == nil {
				var v interface{}
				if v, runErr = cli.parse(stdout); runErr == nil {
					runErr = decodeInto(v, out)
				}
				if runErr == nil {
					f.opts.Metrics.ObserveDaemon(f.daemon, "fallback")
					f.reportFallback(log, method, SourceCLI, primaryErr)
					return SourceCLI, nil
				}
			}
			log.Warn("cli fallback failed", zap.Error(runErr))
		}
	}

	if f.opts.Simulation && simulate != nil {
		if v, ok := simulate(); ok {
			if err := decodeInto(v, out); err != nil {
				return "", fmt.Errorf("decode simulated %s: %w", method, err)
			}
			f.opts.Metrics.ObserveDaemon(f.daemon, "simulated")
			f.reportFallback(log, method, SourceSimulated, primaryErr)
			return SourceSimulated, nil
		}
	}

	f.opts.Metrics.ObserveDaemon(f.daemon, "error")
	return "", derrors.ErrDaemonUnavailable.WithMessage(
		fmt.Sprintf("%s %s failed: %v", f.daemon, method, primaryErr))
}

func (f *fallbackChain) reportFallback(log *zap.Logger, method string, src Source, cause error) {
	if f.opts.Events == nil {
		log.Info("served by fallback", zap.String("source", string(src)))
		return
	}
	f.opts.Events.Warn(logger.EventDaemonFallback, f.daemon+" "+method+" served by "+string(src), map[string]interface{}{
		"daemon": f.daemon,
		"method": method,
		"source": string(src),
		"cause":  cause.Error(),
	})
}

// decodeInto copies v into out through JSON so CLI and simulated values land
// in the same typed structs as API responses.
func decodeInto(v interface{}, out interface{}) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
