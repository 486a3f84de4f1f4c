package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // profiling is opt-in via --profiling-port
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/cmd/util"
	"github.com/mpapenbr/racestate-live/pkg/config"
	"github.com/mpapenbr/racestate-live/pkg/processing/race"
	"github.com/mpapenbr/racestate-live/pkg/publish/httpview"
	"github.com/mpapenbr/racestate-live/pkg/publish/natspub"
	"github.com/mpapenbr/racestate-live/pkg/utils"
)

var (
	natsEmbedded     bool
	natsEmbeddedPort int
	natsStoreDir     string
)

func NewLiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "follows a live session and publishes the derived race views",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&config.SessionID, "session", "",
		"session to follow (default: first live session)")
	cmd.Flags().StringVar(&config.CircuitFile, "circuit-file", "",
		"yaml file with the circuit outline (default: fetched from backend)")
	cmd.Flags().StringVar(&config.PollInterval, "poll-interval", "5s",
		"interval of the leaderboard pull")
	cmd.Flags().IntVar(&config.UnreliableAfter, "unreliable-after", 3,
		"consecutive pull failures until the poll is flagged unreliable")
	cmd.Flags().StringVar(&config.ReconnectBase, "reconnect-base", "1s",
		"initial reconnect delay of the live stream")
	cmd.Flags().StringVar(&config.ReconnectMax, "reconnect-max", "30s",
		"max reconnect delay of the live stream")
	cmd.Flags().Float64Var(&config.ReconnectJitter, "reconnect-jitter", 0,
		"randomization factor [0,1) applied to reconnect delays")
	cmd.Flags().StringVar(&config.BackendTimezone, "backend-timezone", "",
		"IANA zone of live frame timestamps without offset (default: local)")
	cmd.Flags().Float64Var(&config.BattleThreshold, "battle-threshold",
		race.DefaultBattleThreshold,
		"gap in seconds below which adjacent drivers are in a battle")
	cmd.Flags().StringVar(&config.MinBackendVersion, "min-backend-version",
		"", "minimum required backend version")
	cmd.Flags().StringVar(&config.NatsURL, "nats-url", "",
		"publish views to this NATS server")
	cmd.Flags().BoolVar(&natsEmbedded, "nats-embedded", false,
		"start an embedded NATS server and publish to it")
	cmd.Flags().IntVar(&natsEmbeddedPort, "nats-embedded-port", 4222,
		"port of the embedded NATS server")
	cmd.Flags().StringVar(&natsStoreDir, "nats-store-dir", "",
		"JetStream store dir of the embedded NATS server")
	cmd.Flags().StringVar(&config.NatsPrefix, "nats-prefix", natspub.DefaultPrefix,
		"subject prefix for NATS")
	cmd.Flags().StringVar(&config.NatsKVBucket, "nats-kv-bucket", "",
		"JetStream KV bucket for the latest view (empty disables)")
	cmd.Flags().StringVar(&config.HTTPAddr, "http-addr", "",
		"listen addr for the view endpoint, e.g. localhost:8090 (empty disables)")
	cmd.Flags().StringVar(&config.TLSCertFile, "tls-cert", "",
		"path to TLS certificate of the view endpoint")
	cmd.Flags().StringVar(&config.TLSKeyFile, "tls-key", "",
		"path to TLS key of the view endpoint")
	cmd.Flags().StringVar(&config.TLSCAFile, "tls-ca", "",
		"path to TLS CA for optional client certificates")
	cmd.Flags().StringVar(&config.TraefikCerts, "traefik-certs", "",
		"path to a traefik acme.json holding the certificate")
	cmd.Flags().StringVar(&config.TraefikCertDomain, "traefik-domain", "",
		"domain to lookup within the traefik certs")
	cmd.Flags().BoolVar(&config.PrintViews, "print-views", false,
		"log a compact leaderboard for each view")
	cmd.Flags().BoolVar(&config.EnableTelemetry, "enable-telemetry", false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint, "telemetry-endpoint",
		"localhost:4317", "Endpoint that receives open telemetry data")
	cmd.Flags().IntVar(&config.ProfilingPort, "profiling-port", 0,
		"port provides access to profiling data")
	return cmd
}

//nolint:funlen,gocyclo // startup sequence
func runLive(ctx context.Context) error {
	logger := log.GetFromContext(ctx).Named("live")
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.ProfilingPort > 0 {
		logger.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // local only
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				logger.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	var telemetry *config.Telemetry
	if config.EnableTelemetry {
		logger.Info("Enabling telemetry")
		var err error
		if telemetry, err = config.SetupTelemetry(ctx); err != nil {
			logger.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			logger.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}
	defer func() {
		if telemetry != nil {
			telemetry.Shutdown()
		}
	}()

	var ns *server.Server
	if natsEmbedded {
		var err error
		if ns, err = natspub.StartEmbedded("localhost", natsEmbeddedPort, natsStoreDir); err != nil {
			return err
		}
		defer ns.Shutdown()
		config.NatsURL = ns.ClientURL()
		logger.Info("Embedded NATS server started", log.String("url", config.NatsURL))
	}
	if err := waitForNats(); err != nil {
		return err
	}

	client, err := util.NewBackendClient(ctx, logger)
	if err != nil {
		return err
	}
	cfg := config.Resolve()
	p, err := newPipeline(ctx, pipelineOptions{
		client:      client,
		cfg:         cfg,
		circuitFile: config.CircuitFile,
		l:           logger,
	})
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.activateInitial(config.SessionID); err != nil {
		if !errors.Is(err, ErrNoSession) {
			return err
		}
		logger.Warn("No live session available, staying idle")
	}

	wg := sync.WaitGroup{}
	if config.NatsURL != "" {
		conn, pub, err := connectPublisher(ctx, p, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer pub.Close()
		views := p.processor.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx, views)
		}()
	}

	var hv *httpview.Server
	if config.HTTPAddr != "" {
		if hv, err = newViewServer(ctx, p, logger.Named("http")); err != nil {
			return err
		}
		go func() {
			logger.Info("Starting view server", log.String("addr", config.HTTPAddr))
			if err := hv.Serve(config.HTTPAddr); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {

				logger.Error("view server stopped", log.ErrorField(err))
			}
		}()
	}

	if cfg.PrintViews {
		views := p.processor.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			printViews(ctx, views, logger)
		}()
	}

	setupGoRoutinesDump()
	logger.Info("Live service started")
	<-ctx.Done()
	logger.Debug("Got signal, shutting down")

	if hv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		//nolint:errcheck // best effort on exit
		hv.Shutdown(shutdownCtx)
		cancel()
	}
	p.close()
	wg.Wait()
	logger.Info("Live service terminated")
	return nil
}

func newViewServer(ctx context.Context, p *pipeline, l *log.Logger) (*httpview.Server, error) {
	opts := []httpview.Option{
		httpview.WithActivator(p.controller),
		httpview.WithLogger(l),
	}
	files := httpview.TLSFiles{
		CertFile:      config.TLSCertFile,
		KeyFile:       config.TLSKeyFile,
		CAFile:        config.TLSCAFile,
		TraefikFile:   config.TraefikCerts,
		TraefikDomain: config.TraefikCertDomain,
	}
	if files.Enabled() {
		tlsConfig, err := httpview.NewTLSConfig(ctx, files, l)
		if err != nil {
			return nil, err
		}
		opts = append(opts, httpview.WithTLS(tlsConfig))
	}
	return httpview.New(p.processor, opts...), nil
}

func waitForNats() error {
	if config.NatsURL == "" {
		return nil
	}
	addr := utils.ExtractFromNatsURL(config.NatsURL)
	if addr == "" {
		return fmt.Errorf("invalid nats url %q", config.NatsURL)
	}
	return utils.WaitForTCP(addr, util.WaitTimeout())
}

//nolint:whitespace // can't make both editor and linter happy
func connectPublisher(
	ctx context.Context, p *pipeline, logger *log.Logger,
) (*nats.Conn, *natspub.Publisher, error) {
	conn, err := nats.Connect(config.NatsURL, nats.Name("rsl"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect NATS: %w", err)
	}
	pub, err := natspub.New(conn,
		natspub.WithContext(ctx),
		natspub.WithPrefix(config.NatsPrefix),
		natspub.WithKVBucket(config.NatsKVBucket),
		natspub.WithActivator(p.controller),
		natspub.WithLogger(logger.Named("nats")))
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	logger.Info("Publishing views",
		log.String("url", config.NatsURL),
		log.String("prefix", config.NatsPrefix))
	return conn, pub, nil
}

func printViews(ctx context.Context, views <-chan *race.RaceView, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			logger.Info("view",
				log.String("session", v.SessionID),
				log.Uint64("rev", v.Revision),
				log.String("conn", v.ConnectionIndicator),
				log.Bool("pollUnreliable", v.PollUnreliable),
				log.String("board", summary(v)))
		}
	}
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}
