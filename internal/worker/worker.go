// Package worker provides a NATS worker that runs music generation jobs for
// headless callers.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/music"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultHandleTimeout bounds a single job when no timeout is configured.
const DefaultHandleTimeout = 15 * time.Minute

// ErrInvalidJob indicates that a job payload could not be decoded.
var ErrInvalidJob = errors.New("invalid generation job")

// Generator runs a generation request and returns the artifact path.
type Generator interface {
	Generate(ctx context.Context, req music.Request) (string, error)
}

// Job is the payload received on the generate subject. Fields of Request
// that are absent from the payload take the form defaults.
type Job struct {
	Header  events.EventHeader `json:"header"`
	Request music.Request      `json:"request"`
}

// Reply is sent back for every job, successful or not.
type Reply struct {
	Header       events.EventHeader `json:"header"`
	ArtifactKey  string             `json:"artifact_key,omitempty"`
	ArtifactName string             `json:"artifact_name,omitempty"`
	Error        string             `json:"error,omitempty"`
	ErrorKind    string             `json:"error_kind,omitempty"`
}

// NatsWorker listens for generation jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ArtifactStore
	generator      Generator
	handleTimeout  time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. A non-positive
// handleTimeout falls back to DefaultHandleTimeout.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ArtifactStore,
	generator Generator,
	handleTimeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	if handleTimeout <= 0 {
		handleTimeout = DefaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		generator:      generator,
		handleTimeout:  handleTimeout,
		log:            log,
	}
}

// Run subscribes to the generate subject and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for generation jobs on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(parent context.Context, msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(parent, w.handleTimeout)
	defer cancel()

	job, err := parseJob(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse generation job: %v", err)
		w.respond(msg, &Reply{Error: err.Error(), ErrorKind: music.KindValidation})

		return
	}

	reply := &Reply{Header: job.Header}

	key, name, processErr := w.processJob(ctx, job)
	if processErr != nil {
		w.log.Error("Generation job failed for workflow %s: %v", job.Header.WorkflowID, processErr)

		reply.Error = processErr.Error()
		reply.ErrorKind = music.ErrorKind(processErr)

		if reply.ErrorKind == "" {
			reply.ErrorKind = music.KindUnrecovered
		}
	} else {
		reply.ArtifactKey = key
		reply.ArtifactName = name

		w.log.Info("Archived %s as %s for workflow %s", name, key, job.Header.WorkflowID)
	}

	w.respond(msg, reply)
}

// processJob generates the artifact and archives it under a fresh key.
func (w *NatsWorker) processJob(ctx context.Context, job *Job) (string, string, error) {
	path, err := w.generator.Generate(ctx, job.Request)
	if err != nil {
		return "", "", err
	}

	name := filepath.Base(path)
	key := uuid.NewString() + filepath.Ext(name)

	err = w.store.Archive(ctx, key, path)
	if err != nil {
		return "", "", fmt.Errorf("failed to archive artifact '%s': %w", name, err)
	}

	return key, name, nil
}

func (w *NatsWorker) respond(msg *nats.Msg, reply *Reply) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func parseJob(data []byte) (*Job, error) {
	job := Job{Request: music.DefaultRequest()}

	err := json.Unmarshal(data, &job)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	return &job, nil
}
