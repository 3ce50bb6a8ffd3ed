package main

import (
	"context"
	"geo-backend/cmd"
	"geo-backend/internal/conversion"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/caarlos0/env/v11"
)

type LambdaConfig struct {
	cmd.StorageConfig
	ScratchDir string `env:"SCRATCH_DIR" envDefault:"/tmp"`
}

// requestPath prefers the greedy {proxy+} parameter and falls back to the
// raw request path.
func requestPath(req events.APIGatewayProxyRequest) string {
	if proxy, ok := req.PathParameters["proxy"]; ok && proxy != "" {
		return "/" + proxy
	}
	return req.Path
}

func toProxyResponse(resp conversion.Response) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode:      resp.StatusCode,
		Headers:         resp.Headers,
		Body:            resp.Body,
		IsBase64Encoded: resp.IsBase64Encoded,
	}
}

func main() {
	var cfg LambdaConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	store, err := cmd.NewObjectStore(cfg.StorageConfig)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}
	service := conversion.NewService(store, cfg.ScratchDir)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		path := requestPath(req)
		slog.Info("handling request", "path", path, "request_id", req.RequestContext.RequestID)
		return toProxyResponse(service.Handle(ctx, path)), nil
	})
}
