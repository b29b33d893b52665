package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/skobkin/reefdash/internal/app"
	"github.com/skobkin/reefdash/internal/bus"
	"github.com/skobkin/reefdash/internal/config"
	"github.com/skobkin/reefdash/internal/connectors"
	"github.com/skobkin/reefdash/internal/dash"
	"github.com/skobkin/reefdash/internal/protocol"
)

const defaultConnectWait = 15 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("run dashcli", "error", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	connector  string
	host       string
	port       int
	serialPort string
	serialBaud int
	logLevel   string
	data       bool
	events     bool
	journal    bool
	recordData bool
	notify     bool

	query       string
	get         string
	eventOnce   bool
	listenFor   time.Duration
	connectWait time.Duration
	version     bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("dashcli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "config file (.json or .yaml), defaults to the per-user config")
	fs.StringVar(&f.connector, "connector", "", "connector type: ip or serial")
	fs.StringVar(&f.host, "host", "", "server ip/hostname")
	fs.IntVar(&f.port, "port", 0, "server tcp port")
	fs.StringVar(&f.serialPort, "serial-port", "", "serial device, e.g. /dev/ttyACM0 or COM3")
	fs.IntVar(&f.serialBaud, "serial-baud", 0, "serial baud rate")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&f.data, "data", true, "poll DATA while connected")
	fs.BoolVar(&f.events, "events", false, "poll EVENT while connected")
	fs.BoolVar(&f.journal, "journal", false, "record events and connection history to sqlite")
	fs.BoolVar(&f.recordData, "journal-data", false, "also record data samples to the journal")
	fs.BoolVar(&f.notify, "notify", false, "show desktop notifications for robot errors and connection changes")
	fs.StringVar(&f.query, "query", "", "send QUERY, e.g. R3")
	fs.StringVar(&f.get, "get", "", "send GET with comma separated indices, e.g. 1,2,3")
	fs.BoolVar(&f.eventOnce, "event-once", false, "send a single EVENT request")
	fs.DurationVar(&f.listenFor, "listen-for", 0, "listen duration, e.g. 30s")
	fs.DurationVar(&f.connectWait, "connect-wait", defaultConnectWait, "how long commands wait for a connection")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}

	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) {
		f.set[fl.Name] = true
	})

	return f, nil
}

// override applies only the flags given on the command line.
func (f cliFlags) override(cfg *config.AppConfig) {
	if f.set["connector"] {
		cfg.Connection.Connector = config.ConnectorType(strings.TrimSpace(f.connector))
	}
	if f.set["host"] {
		cfg.Connection.Host = strings.TrimSpace(f.host)
	}
	if f.set["port"] {
		cfg.Connection.Port = f.port
	}
	if f.set["serial-port"] {
		cfg.Connection.SerialPort = strings.TrimSpace(f.serialPort)
		if !f.set["connector"] {
			cfg.Connection.Connector = config.ConnectorSerial
		}
	}
	if f.set["serial-baud"] {
		cfg.Connection.SerialBaud = f.serialBaud
	}
	if f.set["log-level"] {
		cfg.Logging.Level = f.logLevel
	}
	if f.set["data"] {
		cfg.Polling.DataEnabled = f.data
	}
	if f.set["events"] {
		cfg.Polling.EventEnabled = f.events
	}
	if f.set["journal"] {
		cfg.Journal.Enabled = f.journal
	}
	if f.set["journal-data"] {
		cfg.Journal.RecordData = f.recordData
	}
	if f.set["notify"] {
		cfg.Notifications.Enabled = f.notify
	}
}

func (f cliFlags) hasCommands() bool {
	return f.query != "" || f.get != "" || f.eventOnce
}

func run(args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if f.version {
		_, err := fmt.Fprintf(stdout, "dashcli %s\n", app.BuildSummary())
		return err
	}

	var (
		queryKind  protocol.QueryKind
		queryIndex int
		getIndices []int
	)
	if f.query != "" {
		if queryKind, queryIndex, err = parseQuery(f.query); err != nil {
			return err
		}
	}
	if f.get != "" {
		if getIndices, err = protocol.ParseIndexList(f.get); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.Options{
		ConfigPath: f.configPath,
		Console:    stderr,
		Override:   f.override,
	})
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		_ = rt.Close()
	}()
	logger := rt.LogManager.Logger("cli")
	logger.Info("starting dashcli", "version", app.BuildVersion(), "transport", rt.ConnectionTransport.Name(), "target", rt.ConnectionTransport.Target())

	watch(ctx, rt.Bus, logger)

	if f.hasCommands() {
		if err := waitForConnected(ctx, rt, f.connectWait); err != nil {
			return err
		}
		if f.query != "" {
			ex, err := rt.Client.SendQuery(ctx, queryKind, queryIndex)
			if err := printExchange(stdout, ex, err); err != nil {
				return err
			}
		}
		if f.get != "" {
			ex, err := rt.Client.SendGet(ctx, getIndices...)
			if err := printExchange(stdout, ex, err); err != nil {
				return err
			}
		}
		if f.eventOnce {
			ex, err := rt.Client.SendEvent(ctx)
			if err := printExchange(stdout, ex, err); err != nil {
				return err
			}
		}
	}

	if f.listenFor > 0 {
		logger.Info("listen mode", "duration", f.listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(f.listenFor):
		}
		return nil
	}
	if f.hasCommands() {
		return nil
	}

	logger.Info("listening until interrupt")
	<-ctx.Done()

	return nil
}

// parseQuery splits "R3" into the query type and index.
func parseQuery(raw string) (protocol.QueryKind, int, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 {
		return "", 0, fmt.Errorf("%w: query %q needs a type and an index", protocol.ErrInvalidArgument, raw)
	}
	kind, err := protocol.ParseQueryKind(raw[:1])
	if err != nil {
		return "", 0, err
	}
	index, err := strconv.Atoi(raw[1:])
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("%w: bad query index %q", protocol.ErrInvalidArgument, raw[1:])
	}

	return kind, index, nil
}

func printExchange(w io.Writer, ex dash.Exchange, err error) error {
	if err != nil {
		return err
	}
	if !ex.Sent {
		return fmt.Errorf("%s not sent: disconnected", ex.Command)
	}
	_, err = fmt.Fprintf(w, "%s -> %s\n", ex.Command, ex.Response)

	return err
}

func waitForConnected(ctx context.Context, rt *app.Runtime, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ready := make(chan struct{}, 1)
	bus.Listen(waitCtx, rt.Bus, connectors.TopicConnStatus, func(status connectors.ConnectionStatus) {
		if !status.Connected() {
			return
		}
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	if rt.Client.Connected() {
		return nil
	}

	select {
	case <-ready:
		return nil
	case <-waitCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("not connected after %s", timeout)
	}
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	bus.Listen(ctx, b, connectors.TopicConnStatus, func(status connectors.ConnectionStatus) {
		logger.Info("connection", "state", status.State, "transport", app.TransportLabel(status.TransportName), "details", app.DescribeConnectionStatus(status))
	})
	bus.Listen(ctx, b, connectors.TopicDataReceived, func(dp connectors.DataPoint) {
		logger.Info("data", "payload", dp.Payload)
	})
	bus.Listen(ctx, b, connectors.TopicEventReceived, func(rec connectors.EventRecord) {
		logger.Info("event", "kind", rec.Kind, "message", rec.Message)
	})
	bus.Listen(ctx, b, connectors.TopicClientCommand, func(cmd connectors.ClientCommand) {
		logger.Debug("command", "line", cmd.Line)
	})
	bus.Listen(ctx, b, connectors.TopicServerResponse, func(resp connectors.ServerResponse) {
		logger.Debug("response", "command", resp.Command, "line", resp.Line)
	})
	bus.Listen(ctx, b, connectors.TopicLogMessage, func(line connectors.LogLine) {
		logger.Log(ctx, line.Level, "client", "text", line.Text)
	})
}
