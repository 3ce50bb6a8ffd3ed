package main

import (
	"context"
	"geo-backend/cmd"
	"geo-backend/internal/api"
	"geo-backend/internal/classify"
	"geo-backend/internal/database"
	"geo-backend/internal/messaging"
	"geo-backend/internal/metrics"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ClassifierConfig struct {
	QGISProcessBin    string        `env:"QGIS_PROCESS_BIN" envDefault:"qgis_process"`
	QGISAlgorithm     string        `env:"QGIS_ALGORITHM" envDefault:"script:classification"`
	BucketName        string        `env:"MY_S3_BUCKET_NAME" envDefault:"default-bucket-name"`
	S3EndpointURL     string        `env:"S3_ENDPOINT_URL"`
	S3Region          string        `env:"AWS_REGION"`
	S3AccessKeyID     string        `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY"`
	StorageDir        string        `env:"STORAGE_DIR"`
	DatabaseURL       string        `env:"DATABASE_URL" envDefault:"classifier.db"`
	RabbitMQURL       string        `env:"RABBITMQ_URL"`
	DefaultParamsFile string        `env:"DEFAULT_PARAMS_FILE"`
	Port              string        `env:"PORT" envDefault:"5000"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"2h"`
}

func loadEngine(cfg ClassifierConfig) classify.Engine {
	engine := classify.NewQGISProcess(cfg.QGISProcessBin, cfg.QGISAlgorithm)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := engine.Load(ctx); err != nil {
		slog.Error("unable to load classification algorithm, requests will be rejected", "algorithm", cfg.QGISAlgorithm, "error", err)
		return nil
	}
	log.Printf("Algorithm '%s' loaded", engine.Algorithm())
	return engine
}

func queues(cfg ClassifierConfig) (messaging.Publisher, messaging.Receiver) {
	if cfg.RabbitMQURL == "" {
		log.Println("RABBITMQ_URL not set, using in-memory job queue")
		queue := messaging.NewInMemoryQueue()
		return queue, queue
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	return publisher, receiver
}

func main() {
	log.Println("Starting classification server...")

	cmd.LoadEnvFile()

	var cfg ClassifierConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	store, err := cmd.NewObjectStore(cmd.StorageConfig{
		BucketName:        cfg.BucketName,
		S3EndpointURL:     cfg.S3EndpointURL,
		S3Region:          cfg.S3Region,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		StorageDir:        cfg.StorageDir,
	})
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	defaults := classify.DefaultParams()
	if cfg.DefaultParamsFile != "" {
		defaults, err = classify.LoadParams(cfg.DefaultParamsFile)
		if err != nil {
			log.Fatalf("Failed to load default params: %v", err)
		}
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	runner := classify.NewRunner(loadEngine(cfg), classify.NewGate(), store, defaults)

	publisher, receiver := queues(cfg)
	defer publisher.Close()

	processor := classify.NewJobProcessor(db, runner, receiver)
	go processor.Start()

	m := metrics.New("classifier")

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(m.Middleware)

	r.Handle("/metrics", m.Handler())

	apiHandler := api.NewClassifierService(db, runner, publisher)
	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
		processor.Stop()
	}()

	log.Printf("Classification server listening on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.Port, err)
	}

	log.Println("Server stopped.")
}
