package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schemaregistry/internal/cache"
	"schemaregistry/internal/config"
	"schemaregistry/internal/election"
	"schemaregistry/internal/forward"
	"schemaregistry/internal/idgen"
	"schemaregistry/internal/providers"
	"schemaregistry/internal/providers/avro"
	"schemaregistry/internal/providers/jsonschema"
	"schemaregistry/internal/providers/parsecache"
	"schemaregistry/internal/providers/protobuf"
	"schemaregistry/internal/registry"
	"schemaregistry/internal/rest"
	"schemaregistry/internal/store"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type server struct {
	cfg          config.Config
	js           nats.JetStreamContext
	kv           nats.KeyValue
	http         *http.Server
	natsServer   *natsd.Server
	embeddedNATS bool

	store    store.Store
	elector  *election.Elector
	registry *registry.Registry
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("starting schema registry server", "config", cfg)

	srv := &server{cfg: cfg}
	if err := srv.setupNATS(); err != nil {
		slog.Error("failed to set up NATS", "error", err)
		os.Exit(1)
	}
	if err := srv.setupRegistry(); err != nil {
		slog.Error("failed to set up registry core", "error", err)
		os.Exit(1)
	}

	rest.Init(srv.registry)
	srv.http = &http.Server{Addr: cfg.HTTPAddr, Handler: rest.Routes()}

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	srv.gracefulShutdown(5 * time.Second)
}

func (s *server) setupNATS() error {
	slog.Debug("connecting to NATS", "url", s.cfg.NATSURL)

	nc, err := nats.Connect(s.cfg.NATSURL,
		nats.Name("Schema Registry"),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("NATS error", "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Error("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)

	if err != nil && s.cfg.TestMode {
		slog.Info("failed to connect to external NATS server, starting embedded server")
		if err := s.startEmbeddedNATS(); err != nil {
			return fmt.Errorf("start embedded NATS server: %w", err)
		}
		nc, err = nats.Connect(nats.DefaultURL,
			nats.Name("Schema Registry"),
			nats.Timeout(5*time.Second),
			nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
				slog.Error("NATS error", "error", err)
			}),
		)
		if err != nil {
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	slog.Info("connected to NATS")

	s.js, err = nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		return fmt.Errorf("JetStream context: %w", err)
	}

	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		slog.Debug("setting up log bucket", "name", s.cfg.BucketName, "attempt", i+1)
		if s.kv, err = s.makeBucket(s.cfg.BucketName, "Schema registry replicated log"); err != nil {
			if i == maxRetries-1 {
				return fmt.Errorf("create log bucket: %w", err)
			}
			slog.Debug("retrying bucket creation", "error", err)
			time.Sleep(time.Second)
			continue
		}
		break
	}

	slog.Info("NATS setup completed successfully")
	return nil
}

func (s *server) startEmbeddedNATS() error {
	slog.Info("starting embedded NATS server for testing")

	tmpDir, err := os.MkdirTemp("", "nats-data-*")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	opts := &natsd.Options{
		JetStream:  true,
		Port:       4222,
		Host:       "127.0.0.1",
		StoreDir:   tmpDir,
		MaxPayload: int32(s.cfg.SchemaMaxBytes),
	}

	ns, err := natsd.NewServer(opts)
	if err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("embedded NATS server failed to start")
	}

	timeout := time.Now().Add(5 * time.Second)
	for time.Now().Before(timeout) {
		if ns.JetStreamEnabled() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ns.JetStreamEnabled() {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("JetStream failed to start")
	}

	slog.Info("embedded NATS server started successfully")
	s.natsServer = ns
	s.embeddedNATS = true
	return nil
}

func (s *server) makeBucket(name, desc string) (nats.KeyValue, error) {
	kv, err := s.js.KeyValue(name)
	if err == nats.ErrBucketNotFound {
		slog.Debug("bucket not found, creating", "name", name)
		return s.js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      name,
			Description: desc,
			Storage:     nats.FileStorage,
			History:     5,
		})
	}
	return kv, err
}

// leaderResolver adapts election.Elector to registry.LeaderResolver,
// mapping the elected Identity's advertised host into a base URL the
// forwarding client can dial.
type leaderResolver struct {
	elector *election.Elector
}

func (l *leaderResolver) IsLeader() bool {
	_, isSelf := l.elector.CurrentLeader()
	return isSelf
}

func (l *leaderResolver) LeaderBaseURL() (string, bool) {
	id, isSelf := l.elector.CurrentLeader()
	if isSelf || id.Host == "" {
		return "", false
	}
	return id.Host, true
}

func (s *server) setupRegistry() error {
	lookupCache := cache.New()

	natsStore, err := store.New(context.Background(), s.kv, lookupCache, s.cfg.Timeout(), s.cfg.SchemaMaxBytes)
	if err != nil {
		return fmt.Errorf("start log store: %w", err)
	}
	s.store = natsStore

	idGenerator := idgen.New(lookupCache)

	selfBaseURL := fmt.Sprintf("%s://%s", s.cfg.InterInstanceProtocol, s.cfg.HostName)
	onLeaderChange := func(leader election.Identity, isSelf bool) {
		if isSelf {
			slog.Info("this node is now the leader", "epoch", leader.Epoch)
			// Catch up with the log first so Init sees every id the
			// previous leader wrote; if the barrier times out, Init
			// seeds from what has been applied so far.
			if err := natsStore.WaitUntilReaderReachesLastOffset(context.Background(), "", s.cfg.InitTimeout()); err != nil {
				slog.Error("leader catch-up failed", "error", err)
			}
			// Seed id generation before this node starts accepting
			// writes: NextID panics if called before Init, and flipping
			// SetLeader first would open a window where a concurrent
			// register request could reach NextID before Init completes.
			idGenerator.Init()
			natsStore.SetLeader(true, leader.Epoch)
		} else {
			natsStore.SetLeader(false, "")
			idGenerator.Reset()
		}
	}
	elector := election.New(s.kv, selfBaseURL, s.cfg.LeaderEligibility, s.cfg.LeaderLeaseInterval, onLeaderChange)
	if err := elector.Init(context.Background()); err != nil {
		return fmt.Errorf("start leader election: %w", err)
	}
	s.elector = elector

	providerRegistry := providers.NewRegistry(avro.New(), jsonschema.New(), protobuf.New())
	parseResultCache := parsecache.New(s.cfg.SchemaCacheSize)
	forwardClient := forward.New(s.cfg.Timeout())

	s.registry = registry.New(registry.Config{
		Store:                natsStore,
		Cache:                lookupCache,
		IDGen:                idGenerator,
		Providers:            providerRegistry,
		ParseCache:           parseResultCache,
		Forwarder:            forwardClient,
		Leader:               &leaderResolver{elector: elector},
		Timeout:              s.cfg.Timeout(),
		WriteMaxRetries:      s.cfg.KafkastoreWriteMaxRetries,
		ModeMutability:       s.cfg.ModeMutability,
		DefaultCompatibility: providers.CompatibilityLevel(s.cfg.CompatibilityLevel),
	})
	return nil
}

func (s *server) gracefulShutdown(timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("shutting down server...")
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if s.elector != nil {
		s.elector.Close()
	}
	if s.store != nil {
		s.store.Close()
	}

	if s.embeddedNATS && s.natsServer != nil {
		slog.Info("shutting down embedded NATS server")
		s.natsServer.Shutdown()
	}
}
