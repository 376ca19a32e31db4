package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/attend/internal/cache"
	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/observability"
	"github.com/your-org/attend/internal/storage"
	"github.com/your-org/attend/internal/vision"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kioskctl",
	Short: "Administer the attendance kiosk database",
	Long: `kioskctl manages the data behind an attendance kiosk: it applies
database migrations, enrolls identities from photos and disables them.

Changes to identities are announced over Redis so running kiosks reload
their gallery without a restart.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env file is optional, don't fail if not found
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		observability.SetupLogger(cfg.Logging.Level, "text")
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file (empty for env only)")
}

// backend holds the connections a command needs. Close releases them.
type backend struct {
	db        *storage.PostgresStore
	gallery   *gallery.Gallery
	faces     *storage.MinIOStore
	notifier  *cache.Notifier
	extractor *vision.Extractor
	closers   []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// connect opens Postgres and, when withVision is set, the face models.
// MinIO and Redis are optional; commands run without them.
func connect(ctx context.Context, withVision bool) (*backend, error) {
	b := &backend{}

	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	b.db = db
	b.closers = append(b.closers, db.Close)
	b.gallery = gallery.New(db, cfg.Vision.EmbeddingDim)

	if cfg.MinIO.Endpoint != "" {
		faces, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
		}
		if err := faces.EnsureBucket(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: face crops will not be stored: %v\n", err)
		} else {
			b.faces = faces
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b.closers = append(b.closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: redis unavailable, kiosks will not be notified: %v\n", err)
	} else {
		b.notifier = cache.NewNotifier(rdb)
	}

	if withVision {
		if err := vision.InitRuntime(cfg.Vision.ONNXLibrary); err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = ort.DestroyEnvironment() })
		faceModels, err := vision.LoadModels(cfg.Vision)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, faceModels.Close)
		b.extractor = faceModels.Extractor(cfg.Vision.MinFaceSize)
	}
	return b, nil
}

// notify tells running kiosks to reload. Failures only warn.
func (b *backend) notify(ctx context.Context, identityID string) {
	if err := b.notifier.GalleryChanged(ctx, identityID); err != nil {
		fmt.Fprintf(os.Stderr, "warning: notify kiosks: %v\n", err)
	}
}
