// Command vwire-agent connects a device to the Vwire IoT cloud.
//
// Usage:
//
//	vwire-agent run  [--config path]
//	vwire-agent send [--config path] [--http] V1 23.5 [more values...]
//	vwire-agent send [--config path] --batch V1=23.5 V2=on
//	vwire-agent read [--config path] [--http] [--timeout 10s] V1
//	vwire-agent version
//
// run keeps a persistent MQTT connection, caches pin values in SQLite,
// records them to InfluxDB and serves the local API. send and read are
// one-shot commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vwireiot/vwire-go/httpclient"
	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
	"github.com/vwireiot/vwire-go/internal/infrastructure/logging"
	"github.com/vwireiot/vwire-go/vwire"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath  = "configs/config.yaml"
	defaultReadTimeout = 10 * time.Second
)

var errUsage = errors.New("usage: vwire-agent <run|send|read|version> [flags]")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute dispatches a subcommand. Output meant for the user goes to out.
func execute(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return runCommand(ctx, rest)
	case "send":
		return sendCommand(ctx, rest, out)
	case "read":
		return readCommand(ctx, rest, out)
	case "version":
		fmt.Fprintf(out, "vwire-agent %s (commit %s, built %s)\n", version, commit, date)
		return nil
	case "help", "-h", "--help":
		fmt.Fprintln(out, errUsage.Error())
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// newFlagSet returns a flag set with the shared --config flag.
func newFlagSet(name string, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", getConfigPath(), "Path to the agent configuration file")
	return fs
}

func getConfigPath() string {
	if path := os.Getenv("VWIRE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func runCommand(ctx context.Context, args []string) error {
	var configPath string
	fs := newFlagSet("run", &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("run takes no arguments, got %q", fs.Args())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return run(ctx, cfg)
}

func sendCommand(ctx context.Context, args []string, out io.Writer) error {
	var (
		configPath string
		useHTTP    bool
		batch      bool
	)
	fs := newFlagSet("send", &configPath)
	fs.BoolVar(&useHTTP, "http", false, "Send over the HTTP API instead of MQTT")
	fs.BoolVar(&batch, "batch", false, "Treat arguments as PIN=VALUE pairs sent in one HTTP request")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	if batch {
		values, err := parseAssignments(fs.Args())
		if err != nil {
			return err
		}
		client, err := newHTTPClient(cfg, log)
		if err != nil {
			return err
		}
		if err := client.WriteBatch(ctx, values); err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
		fmt.Fprintf(out, "wrote %d pins\n", len(values))
		return nil
	}

	if fs.NArg() < 2 {
		return errors.New("send needs a pin and at least one value")
	}
	pin, err := vwire.ParsePin(fs.Arg(0))
	if err != nil {
		return err
	}
	values := make([]any, 0, fs.NArg()-1)
	for _, v := range fs.Args()[1:] {
		values = append(values, v)
	}

	if useHTTP {
		client, err := newHTTPClient(cfg, log)
		if err != nil {
			return err
		}
		if err := client.VirtualWrite(ctx, pin, values...); err != nil {
			return fmt.Errorf("writing %s: %w", vwire.PinName(pin), err)
		}
	} else {
		client, err := newDeviceClient(cfg, log)
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Disconnect()
		if err := client.VirtualWrite(pin, values...); err != nil {
			return fmt.Errorf("writing %s: %w", vwire.PinName(pin), err)
		}
	}

	fmt.Fprintf(out, "%s=%s\n", vwire.PinName(pin), strings.Join(fs.Args()[1:], ","))
	return nil
}

func readCommand(ctx context.Context, args []string, out io.Writer) error {
	var (
		configPath string
		useHTTP    bool
		timeout    time.Duration
	)
	fs := newFlagSet("read", &configPath)
	fs.BoolVar(&useHTTP, "http", false, "Read over the HTTP API instead of MQTT")
	fs.DurationVar(&timeout, "timeout", defaultReadTimeout, "How long to wait for the value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("read needs exactly one pin")
	}
	pin, err := vwire.ParsePin(fs.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var value string
	if useHTTP {
		client, err := newHTTPClient(cfg, log)
		if err != nil {
			return err
		}
		if value, err = client.VirtualRead(ctx, pin); err != nil {
			return fmt.Errorf("reading %s: %w", vwire.PinName(pin), err)
		}
	} else {
		client, err := newDeviceClient(cfg, log)
		if err != nil {
			return err
		}
		if value, err = readOverMQTT(ctx, client, pin); err != nil {
			return fmt.Errorf("reading %s: %w", vwire.PinName(pin), err)
		}
	}

	fmt.Fprintf(out, "%s=%s\n", vwire.PinName(pin), displayValue(value))
	return nil
}

// readOverMQTT asks the server to resend a pin and waits for it.
func readOverMQTT(ctx context.Context, client *vwire.Client, pin int) (string, error) {
	got := make(chan string, 1)
	client.Watch(func(pv vwire.PinValue) {
		if pv.Pin != pin || pv.Source != vwire.SourceServer {
			return
		}
		select {
		case got <- pv.Value:
		default:
		}
	})

	if err := client.Connect(ctx); err != nil {
		return "", err
	}
	defer client.Disconnect()

	if err := client.SyncVirtual(pin); err != nil {
		return "", err
	}

	select {
	case v := <-got:
		return v, nil
	case <-ctx.Done():
		return "", fmt.Errorf("no value received: %w", ctx.Err())
	}
}

// parseAssignments turns ["V1=20", "2=on"] into a batch map.
func parseAssignments(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, errors.New("batch needs at least one PIN=VALUE pair")
	}
	values := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want PIN=VALUE", arg)
		}
		values[key] = value
	}
	return values, nil
}

// displayValue renders a multi-value payload comma separated.
func displayValue(v string) string {
	return strings.Join(vwire.PinValue{Value: v}.Values(), ",")
}

// sdkConfig converts the agent configuration to client settings.
func sdkConfig(cfg *config.Config) vwire.Config {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return vwire.Config{
		Server:               cfg.Server.Host,
		MQTTPort:             cfg.Server.MQTTPort,
		HTTPPort:             cfg.Server.HTTPPort,
		Transport:            vwire.Transport(cfg.Server.Transport),
		Keepalive:            seconds(cfg.Server.Keepalive),
		ReconnectInterval:    seconds(cfg.Server.ReconnectInterval),
		MaxReconnectAttempts: cfg.Server.MaxReconnectAttempts,
		ConnectTimeout:       seconds(cfg.Server.ConnectTimeout),
		VerifySSL:            cfg.Server.VerifySSL,
		CACerts:              cfg.Server.CACerts,
		ClientCert:           cfg.Server.ClientCert,
		ClientKey:            cfg.Server.ClientKey,
		HeartbeatInterval:    seconds(cfg.Server.HeartbeatInterval),
		Debug:                cfg.Server.Debug,
	}
}

func newDeviceClient(cfg *config.Config, log *logging.Logger, opts ...vwire.Option) (*vwire.Client, error) {
	opts = append([]vwire.Option{
		vwire.WithConfig(sdkConfig(cfg)),
		vwire.WithLogger(log.Logger),
	}, opts...)
	client, err := vwire.New(cfg.Device.AuthToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	return client, nil
}

func newHTTPClient(cfg *config.Config, log *logging.Logger) (*httpclient.Client, error) {
	client, err := httpclient.New(cfg.Device.AuthToken,
		httpclient.WithServer(cfg.HTTPHost(), cfg.Server.HTTPPort, cfg.HTTP.TLS),
		httpclient.WithTimeout(time.Duration(cfg.HTTP.Timeout)*time.Second),
		httpclient.WithLogger(log.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}
	return client, nil
}
