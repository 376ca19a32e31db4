package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/attend/internal/api"
	"github.com/your-org/attend/internal/api/handlers"
	"github.com/your-org/attend/internal/api/ws"
	"github.com/your-org/attend/internal/attendance"
	"github.com/your-org/attend/internal/cache"
	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/engine"
	"github.com/your-org/attend/internal/enrollment"
	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/ingest"
	"github.com/your-org/attend/internal/observability"
	"github.com/your-org/attend/internal/queue"
	"github.com/your-org/attend/internal/storage"
	"github.com/your-org/attend/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("kiosk stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Kiosk.Location()
	if err != nil {
		return err
	}
	slog.Info("starting attendance kiosk",
		"kiosk_id", cfg.Kiosk.ID,
		"port", cfg.Server.Port,
		"timezone", loc.String(),
	)

	// Postgres
	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()
	if _, err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Redis: recorded-today cache and cross-process gallery notifications.
	// The kiosk runs without it; Postgres stays authoritative.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	var (
		recorded attendance.RecordedCache
		markers  *cache.Recorded
		notifier *cache.Notifier
		redisOK  handlers.Check
	)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, running without cache", "addr", cfg.Redis.Addr, "error", err)
	} else {
		rc := cache.NewRecorded(rdb, loc)
		recorded, markers = rc, rc
		redisOK = rc.Ping
		notifier = cache.NewNotifier(rdb)
	}

	// MinIO
	var (
		faces   *storage.MinIOStore
		minioOK handlers.Check
	)
	if cfg.MinIO.Endpoint != "" {
		faces, err = storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("connect to minio: %w", err)
		}
		if err := faces.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		minioOK = faces.Ping
	}

	// NATS
	hub := ws.NewHub()
	var (
		publisher engine.Publisher = hub
		producer  *queue.Producer
		natsOK    handlers.Check
	)
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, events go to websocket clients only", "error", err)
		} else {
			defer producer.Close()
			if err := producer.EnsureStreams(ctx); err != nil {
				return fmt.Errorf("ensure nats streams: %w", err)
			}
			consumer, err := queue.NewConsumer(cfg.NATS.URL)
			if err != nil {
				return fmt.Errorf("create event consumer: %w", err)
			}
			defer consumer.Close()
			if err := consumer.ConsumeEvents(ctx, "ws-"+cfg.Kiosk.ID, "", hub.Publish); err != nil {
				return fmt.Errorf("start event consumer: %w", err)
			}
			publisher = producer
			natsOK = func(context.Context) error { return producer.Ping() }
		}
	}

	// Vision
	if err := vision.InitRuntime(cfg.Vision.ONNXLibrary); err != nil {
		return err
	}
	defer ort.DestroyEnvironment()
	faceModels, err := vision.LoadModels(cfg.Vision)
	if err != nil {
		return err
	}
	defer faceModels.Close()
	extractor := faceModels.Extractor(cfg.Vision.MinFaceSize)

	// Camera
	camera := ingest.NewCamera(cfg.Camera)
	defer camera.Stop()

	// Recognition
	gal := gallery.New(db, cfg.Vision.EmbeddingDim)
	policy := attendance.NewPolicy(db, gal, recorded, loc)
	var snapshots enrollment.SnapshotStore
	if faces != nil {
		snapshots = faces
	}
	controller := enrollment.NewController(gal, snapshots, cfg.Enrollment.GracePeriod)
	kiosk := engine.New(engine.Deps{
		Frames:     camera,
		Camera:     camera,
		Extractor:  extractor,
		Gallery:    gal,
		Policy:     policy,
		Enrollment: controller,
		Settings:   db,
		Publisher:  publisher,
	}, engine.OptionsFromConfig(cfg))

	if err := kiosk.LoadSettings(ctx); err != nil {
		return err
	}
	if err := kiosk.ReloadGallery(ctx); err != nil {
		slog.Warn("initial gallery load failed, will retry", "error", err)
	}
	if err := notifier.Listen(ctx, func(ctx context.Context, identityID string) {
		if err := kiosk.ReloadGallery(ctx); err != nil {
			slog.Warn("reload gallery after change", "identity_id", identityID, "error", err)
		}
	}); err != nil {
		slog.Warn("subscribe to gallery changes", "error", err)
	}

	routerCfg := api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		Kiosk:      kiosk,
		Enrollment: controller,
		Store:      db,
		Gallery:    gal,
		Window:     policy,
		Days:       policy,
		Hub:        hub,
		Extractor:  extractor,
		Camera:     camera,
		Checks: map[string]handlers.Check{
			"postgres": db.Ping,
			"redis":    redisOK,
			"minio":    minioOK,
			"nats":     natsOK,
		},
	}
	if faces != nil {
		routerCfg.Faces = faces
	}
	if notifier != nil {
		routerCfg.Notifier = notifier
	}
	if markers != nil {
		routerCfg.Recorded = markers
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return kiosk.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down kiosk...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("kiosk stopped")
	return err
}
