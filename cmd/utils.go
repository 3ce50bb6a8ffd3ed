package cmd

import (
	"flag"
	"fmt"
	"geo-backend/internal/storage"
	"log"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// StorageConfig selects the object store. A non-empty StorageDir serves
// objects from the local filesystem instead of S3.
type StorageConfig struct {
	BucketName        string `env:"S3_BUCKET_NAME"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3Region          string `env:"AWS_REGION"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	StorageDir        string `env:"STORAGE_DIR"`
}

func NewObjectStore(cfg StorageConfig) (storage.ObjectStore, error) {
	if cfg.StorageDir != "" {
		log.Printf("using local object store at %s", cfg.StorageDir)
		return storage.NewLocalObjectStore(cfg.StorageDir)
	}

	if cfg.BucketName == "" {
		return nil, fmt.Errorf("S3_BUCKET_NAME is required when STORAGE_DIR is not set")
	}

	log.Printf("using s3 bucket %s", cfg.BucketName)
	return storage.NewS3ObjectStore(cfg.BucketName, storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
}
