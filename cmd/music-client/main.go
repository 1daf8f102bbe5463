// main package for the music-client: submits a generation job to the
// music-service over NATS and fetches the archived artifact.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/music"
	"github.com/book-expert/music-service/internal/music/text"
	"github.com/book-expert/music-service/internal/objectstore"
	"github.com/book-expert/music-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag names.
const (
	flagNATSURL    = "nats-url"
	flagSubject    = "subject"
	flagBucket     = "bucket"
	flagLyrics     = "lyrics"
	flagLyricsFile = "lyrics-file"
	flagTags       = "tags"
	flagTagsFile   = "tags-file"
	flagSaveName   = "save-name"
	flagOutput     = "output"
	flagTimeout    = "timeout"
	flagUser       = "user"
	flagLogDir     = "log-dir"
)

// Flag descriptions.
const (
	flagNATSURLDesc    = "NATS server URL"
	flagSubjectDesc    = "Subject the music-service listens on"
	flagBucketDesc     = "Object store bucket holding generated artifacts"
	flagLyricsDesc     = "Lyrics text"
	flagLyricsFileDesc = "File with lyrics (overrides --lyrics)"
	flagTagsDesc       = "Comma-separated style tags"
	flagTagsFileDesc   = "File with tags (overrides --tags)"
	flagSaveNameDesc   = "Artifact name on the service (.wav or .mp3)"
	flagOutputDesc     = "Local path for the downloaded artifact (defaults to the artifact name)"
	flagTimeoutDesc    = "How long to wait for the generation reply"
	flagUserDesc       = "User ID recorded in the job header"
	flagLogDirDesc     = "Directory for the client log"
)

const logFileName = "music-client.log"

// ErrLyricsMissing indicates that neither --lyrics nor --lyrics-file was given.
var ErrLyricsMissing = errors.New("either --lyrics or --lyrics-file must be provided")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	natsURL    string
	subject    string
	bucket     string
	lyrics     string
	lyricsFile string
	tags       string
	tagsFile   string
	saveName   string
	output     string
	timeout    time.Duration
	user       string
	logDir     string
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(flags.logDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	natsConnection, err := nats.Connect(flags.natsURL, nats.Name("music-client"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", flags.natsURL, err)
	}
	defer natsConnection.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	path, err := submit(ctx, natsConnection, flags, clientLog)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Generated: %s\n", path)

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	defaults := music.DefaultRequest()

	var flags appFlags

	flagSet := flag.NewFlagSet("music-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.natsURL, flagNATSURL, nats.DefaultURL, flagNATSURLDesc)
	flagSet.StringVar(&flags.subject, flagSubject, "music.generate", flagSubjectDesc)
	flagSet.StringVar(&flags.bucket, flagBucket, "MUSIC_ARTIFACTS", flagBucketDesc)
	flagSet.StringVar(&flags.lyrics, flagLyrics, "", flagLyricsDesc)
	flagSet.StringVar(&flags.lyricsFile, flagLyricsFile, "", flagLyricsFileDesc)
	flagSet.StringVar(&flags.tags, flagTags, "", flagTagsDesc)
	flagSet.StringVar(&flags.tagsFile, flagTagsFile, "", flagTagsFileDesc)
	flagSet.StringVar(&flags.saveName, flagSaveName, defaults.SaveName, flagSaveNameDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, 15*time.Minute, flagTimeoutDesc)
	flagSet.StringVar(&flags.user, flagUser, "", flagUserDesc)
	flagSet.StringVar(&flags.logDir, flagLogDir, os.TempDir(), flagLogDirDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	if flags.lyrics == "" && flags.lyricsFile == "" {
		return appFlags{}, ErrLyricsMissing
	}

	return flags, nil
}

// buildJob turns the flags into a job. Local files are read here because the
// service cannot see the client's filesystem.
func buildJob(flags appFlags) worker.Job {
	req := music.DefaultRequest()
	req.Lyrics = flags.lyrics
	req.Tags = flags.tags
	req.SaveName = flags.saveName

	if flags.lyricsFile != "" {
		req.Lyrics = text.Load(flags.lyricsFile)
	}

	if flags.tagsFile != "" {
		req.Tags = text.Load(flags.tagsFile)
	}

	return worker.Job{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     flags.user,
			TenantID:   "",
		},
		Request: req,
	}
}

// submit sends the job, waits for the reply and downloads the artifact.
func submit(ctx context.Context, natsConnection *nats.Conn, flags appFlags, clientLog *logger.Logger) (string, error) {
	job := buildJob(flags)

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	clientLog.Info("Submitting workflow %s to %s", job.Header.WorkflowID, flags.subject)

	replyMsg, err := natsConnection.RequestWithContext(ctx, flags.subject, payload)
	if err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}

	var reply worker.Reply

	err = json.Unmarshal(replyMsg.Data, &reply)
	if err != nil {
		return "", fmt.Errorf("failed to decode reply: %w", err)
	}

	if reply.Error != "" {
		clientLog.Error("Workflow %s failed (%s): %s", job.Header.WorkflowID, reply.ErrorKind, reply.Error)

		return "", fmt.Errorf("generation failed (%s): %s", reply.ErrorKind, reply.Error)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return "", fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, flags.bucket)
	if err != nil {
		return "", err
	}

	data, err := store.Download(ctx, reply.ArtifactKey)
	if err != nil {
		return "", err
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = reply.ArtifactName
	}

	err = os.MkdirAll(filepath.Dir(outputPath), 0o750)
	if err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	err = os.WriteFile(outputPath, data, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	clientLog.Info("Saved %s (%d bytes) for workflow %s", outputPath, len(data), job.Header.WorkflowID)

	return outputPath, nil
}
