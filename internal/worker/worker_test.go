// Package worker_test tests the NATS worker for the music service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/music"
	"github.com/book-expert/music-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "music.generate.test"

var (
	errMockArchive  = errors.New("mock archive error")
	errMockPipeline = errors.New("mock pipeline error")
)

// mockArtifactStore is a mock implementation of the core.ArtifactStore interface.
type mockArtifactStore struct {
	mu           sync.Mutex
	archiveFails bool
	archivedKey  string
	archivedPath string
}

func (m *mockArtifactStore) Archive(_ context.Context, key, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.archiveFails {
		return errMockArchive
	}

	m.archivedKey = key
	m.archivedPath = path

	return nil
}

func (m *mockArtifactStore) Download(_ context.Context, _ string) ([]byte, error) {
	return nil, nil
}

func (m *mockArtifactStore) archived() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.archivedKey, m.archivedPath
}

// mockGenerator is a mock implementation of the Generator interface.
type mockGenerator struct {
	mu       sync.Mutex
	path     string
	err      error
	received music.Request
}

func (m *mockGenerator) Generate(_ context.Context, req music.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received = req

	return m.path, m.err
}

func (m *mockGenerator) request() music.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.received
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

// startWorker runs a worker against an in-process server and returns a
// connection for issuing requests.
func startWorker(t *testing.T, store *mockArtifactStore, generator *mockGenerator) *nats.Conn {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	workerInstance := worker.NewNatsWorker(natsConnection, testSubject, store, generator, time.Minute, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	// Wait for the subscription to be registered before publishing.
	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 5*time.Second, 10*time.Millisecond)

	return natsConnection
}

func request(t *testing.T, natsConnection *nats.Conn, payload []byte) worker.Reply {
	t.Helper()

	replyMsg, err := natsConnection.Request(testSubject, payload, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply worker.Reply
	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func newHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	artifact := filepath.Join(t.TempDir(), "song.mp3")
	store := &mockArtifactStore{}
	generator := &mockGenerator{path: artifact}
	natsConnection := startWorker(t, store, generator)

	header := newHeader()
	payload, err := json.Marshal(map[string]any{
		"header":  header,
		"request": map[string]any{"lyrics": "la la", "save_name": "song.mp3", "topk": 20},
	})
	require.NoError(t, err)

	reply := request(t, natsConnection, payload)

	assert.Empty(t, reply.Error)
	assert.Equal(t, header.WorkflowID, reply.Header.WorkflowID)
	assert.Equal(t, "song.mp3", reply.ArtifactName)
	assert.Equal(t, ".mp3", filepath.Ext(reply.ArtifactKey))

	archivedKey, archivedPath := store.archived()
	assert.Equal(t, reply.ArtifactKey, archivedKey)
	assert.Equal(t, artifact, archivedPath)

	received := generator.request()
	assert.Equal(t, "la la", received.Lyrics)
	assert.Equal(t, 20, received.TopK)
	assert.Equal(t, music.DefaultVersion, received.Version, "absent fields take the form defaults")
	assert.Equal(t, music.DefaultMaxAudioLengthMs, received.MaxAudioLengthMs)
	assert.InDelta(t, music.DefaultCFGScale, received.CFGScale, 1e-9)
}

func TestMessageHandler_GenerationFailure(t *testing.T) {
	t.Parallel()

	store := &mockArtifactStore{}
	generator := &mockGenerator{
		err: &music.RemediableFailure{Path: "out.mp3", Err: errMockPipeline},
	}
	natsConnection := startWorker(t, store, generator)

	header := newHeader()
	payload, err := json.Marshal(worker.Job{Header: header, Request: music.Request{Lyrics: "x"}})
	require.NoError(t, err)

	reply := request(t, natsConnection, payload)

	assert.Equal(t, music.KindRemediable, reply.ErrorKind)
	assert.Contains(t, reply.Error, music.MP3Remediation)
	assert.Empty(t, reply.ArtifactKey)
	assert.Equal(t, header.WorkflowID, reply.Header.WorkflowID)

	archivedKey, _ := store.archived()
	assert.Empty(t, archivedKey, "nothing is archived for a failed job")
}

func TestMessageHandler_ValidationFailure(t *testing.T) {
	t.Parallel()

	generator := &mockGenerator{
		err: &music.ValidationError{Field: "lyrics", Err: music.ErrLyricsRequired},
	}
	natsConnection := startWorker(t, &mockArtifactStore{}, generator)

	payload, err := json.Marshal(worker.Job{Header: newHeader()})
	require.NoError(t, err)

	reply := request(t, natsConnection, payload)

	assert.Equal(t, music.KindValidation, reply.ErrorKind)
	assert.Equal(t, music.ErrLyricsRequired.Error(), reply.Error)
}

func TestMessageHandler_ArchiveFailure(t *testing.T) {
	t.Parallel()

	store := &mockArtifactStore{archiveFails: true}
	generator := &mockGenerator{path: filepath.Join(t.TempDir(), "a.wav")}
	natsConnection := startWorker(t, store, generator)

	payload, err := json.Marshal(worker.Job{Header: newHeader(), Request: music.Request{Lyrics: "x"}})
	require.NoError(t, err)

	reply := request(t, natsConnection, payload)

	assert.Equal(t, music.KindUnrecovered, reply.ErrorKind)
	assert.Contains(t, reply.Error, errMockArchive.Error())
}

func TestMessageHandler_MalformedPayload(t *testing.T) {
	t.Parallel()

	generator := &mockGenerator{}
	natsConnection := startWorker(t, &mockArtifactStore{}, generator)

	reply := request(t, natsConnection, []byte("{not json"))

	assert.Equal(t, music.KindValidation, reply.ErrorKind)
	assert.Contains(t, reply.Error, worker.ErrInvalidJob.Error())
	assert.Empty(t, generator.request().Lyrics, "the generator is not called")
}
