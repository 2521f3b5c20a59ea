package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/risa-org/sclclient/auth"
	"github.com/risa-org/sclclient/client"
	"github.com/risa-org/sclclient/codec"
	"github.com/risa-org/sclclient/config"
	"github.com/risa-org/sclclient/logger"
	"github.com/risa-org/sclclient/metrics"
	"github.com/risa-org/sclclient/session"
	"github.com/risa-org/sclclient/transport"
	"github.com/risa-org/sclclient/transport/tcp"
	"github.com/risa-org/sclclient/transport/websocket"
)

// errGaveUp is returned when every endpoint has been exhausted.
var errGaveUp = errors.New("retries exhausted on every endpoint")

type runFlags struct {
	configPath string
	endpoints  []string
	local      bool
	logLevel   string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and bridge the session to stdin/stdout",
		Example: `# two remote endpoints, JSON messages
sclclient run --endpoint ws://10.0.0.1:9000/session --endpoint tcp://10.0.0.2:9001

# settings from a file, overridden by SCL_* environment variables
SCL_LOG_LEVEL=debug sclclient run --config /etc/sclclient.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringSliceVarP(&f.endpoints, "endpoint", "e", nil, "endpoint to connect to, in failover order (repeatable)")
	cmd.Flags().BoolVar(&f.local, "local", false, "endpoints are local: retry forever")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

// loadConfig applies flags on top of file and environment settings.
func loadConfig(cmd *cobra.Command, f runFlags) (*config.Config, error) {
	overrides := map[string]interface{}{}
	if len(f.endpoints) > 0 {
		overrides["client.endpoints"] = f.endpoints
	}
	if cmd.Flags().Changed("local") {
		overrides["client.local"] = f.local
	}
	if f.logLevel != "" {
		overrides["logging.level"] = f.logLevel
	}
	return config.Load(f.configPath, overrides)
}

func run(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	log := logger.NewLogger(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, stderr)
	slog.SetDefault(log)

	m := metrics.New()
	c, err := newCodec(cfg.Client.Codec)
	if err != nil {
		return err
	}

	gaveUp := make(chan struct{})
	out := bufio.NewWriter(stdout)
	cl, err := client.New(client.Config{
		Endpoints: cfg.Client.Endpoints,
		Local:     cfg.Client.Local,
		Dialer:    newDialer(cfg.Auth),
		Codec:     c,
		OnState: func(state session.ConnectionState, message string) {
			if state == session.StateDisconnectedForever {
				close(gaveUp)
			}
		},
		OnMessage: func(msg any) {
			if err := writeMessage(out, msg); err != nil {
				log.Warn("Failed to print message", "error", err)
			}
		},
	},
		client.WithLogger(log),
		client.WithMetrics(m),
		client.WithAttemptTimeout(cfg.Client.AttemptTimeout),
		client.WithRetryDelay(cfg.Client.RetryDelay),
		client.WithMaxAttempts(cfg.Client.MaxAttempts),
		client.WithMaxConcurrentDecodes(int64(cfg.Client.MaxConcurrentDecodes)),
		client.WithMaxPending(cfg.Client.MaxPending),
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(m, cfg.Metrics.Address, log)
		g.Go(func() error { return srv.Start(ctx) })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		})
	}

	// stdin can't be interrupted, so the scanner lives outside the group
	lines := make(chan []byte)
	go scanLines(stdin, lines)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-gaveUp:
				return errGaveUp
			case line, ok := <-lines:
				if !ok {
					// keep receiving after stdin ends, until interrupted
					lines = nil
					continue
				}
				if err := cl.Send(outgoing(cfg.Client.Codec, line)); err != nil {
					log.Warn("Dropped outgoing line", "error", err, "state", cl.State().String())
				}
			}
		}
	})

	err = g.Wait()
	cl.Close()
	out.Flush()
	return err
}

func newCodec(name string) (codec.Codec, error) {
	switch name {
	case "json":
		return codec.JSON[any]{}, nil
	case "raw":
		return codec.Raw{}, nil
	default:
		return nil, fmt.Errorf("%w: got %q", config.ErrUnknownCodec, name)
	}
}

// newDialer routes tcp:// and ws(s):// endpoints to their transports.
func newDialer(cfg config.AuthConfig) transport.Dialer {
	ws := websocket.Dialer{}
	if cfg.Secret != "" {
		ws.Header = auth.NewSigner([]byte(cfg.Secret)).Header(cfg.ClientID)
	}
	return transport.SchemeDialer{
		"tcp": tcp.Dialer{KeepAlive: 30 * time.Second},
		"ws":  ws,
		"wss": ws,
	}
}

// outgoing wraps a stdin line for the configured codec. JSON lines are
// passed through as already-encoded JSON.
func outgoing(codecName string, line []byte) any {
	if codecName == "json" {
		return json.RawMessage(line)
	}
	return line
}

func writeMessage(w *bufio.Writer, msg any) error {
	var err error
	switch m := msg.(type) {
	case []byte:
		_, err = w.Write(m)
	default:
		var data []byte
		if data, err = json.Marshal(m); err == nil {
			_, err = w.Write(data)
		}
	}
	if err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func scanLines(r io.Reader, lines chan<- []byte) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), tcp.MaxFrameSize)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		if len(line) == 0 {
			continue
		}
		lines <- line
	}
}
