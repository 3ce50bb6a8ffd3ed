package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ClassificationQueue = "classification_queue"
	RetryDelay          = 5 * time.Second
	MaxConnectRetry     = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type ClassificationTaskPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishClassificationTask(ctx context.Context, payload ClassificationTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
