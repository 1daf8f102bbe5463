package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/music"
	"github.com/book-expert/music-service/internal/music/cache"
	"github.com/book-expert/music-service/internal/music/device"
	"github.com/book-expert/music-service/internal/music/output"
	"github.com/book-expert/music-service/internal/music/text"
	"github.com/gin-gonic/gin"
)

// Form fields carrying optional uploaded text files.
const (
	FieldLyricsFile = "lyrics_file"
	FieldTagsFile   = "tags_file"
)

// Default text files in the assets directory.
const (
	AssetLyrics = "lyrics.txt"
	AssetTags   = "tags.txt"
)

// Generator runs a generation request and returns the artifact path.
type Generator interface {
	Generate(ctx context.Context, req music.Request) (string, error)
}

// PipelineLister reports the pipelines currently held in memory.
type PipelineLister interface {
	Keys() []cache.Key
}

// Handler serves the front end routes.
type Handler struct {
	generator Generator
	outputs   *output.Resolver
	devices   *device.Resolver
	pipelines PipelineLister
	assetsDir string
	modelPath string
	log       *logger.Logger
}

// NewHandler creates a Handler. modelPath prefills the form and is used when
// a request omits model_path.
func NewHandler(
	generator Generator,
	outputs *output.Resolver,
	devices *device.Resolver,
	pipelines PipelineLister,
	assetsDir string,
	modelPath string,
	log *logger.Logger,
) *Handler {
	if modelPath == "" {
		modelPath = music.DefaultModelPath
	}

	return &Handler{
		generator: generator,
		outputs:   outputs,
		devices:   devices,
		pipelines: pipelines,
		assetsDir: assetsDir,
		modelPath: modelPath,
		log:       log,
	}
}

// GenerateResponse is returned by a successful generation.
type GenerateResponse struct {
	Path        string `json:"path"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
}

// ErrorResponse is returned by a failed generation.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

// Index renders the generation form prefilled with the defaults.
func (h *Handler) Index(c *gin.Context) {
	data := FormData{
		Request:  music.DefaultRequest(),
		Devices:  []string{"auto", "cuda", "cpu"},
		Versions: music.SupportedVersions,
	}
	data.Request.ModelPath = h.modelPath
	data.Request.Lyrics = text.Load(filepath.Join(h.assetsDir, AssetLyrics))
	data.Request.Tags = text.Load(filepath.Join(h.assetsDir, AssetTags))

	// Nothing is written until the page rendered completely.
	var page bytes.Buffer

	err := FormPage(data).Render(c.Request.Context(), &page)
	if err != nil {
		h.log.Error("Failed to render form page: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render template"})

		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", page.Bytes())
}

// Generate binds the form, stages any uploaded text files and runs the
// generation.
func (h *Handler) Generate(c *gin.Context) {
	req := music.DefaultRequest()
	req.ModelPath = h.modelPath

	bindErr := c.ShouldBind(&req)
	if bindErr != nil {
		h.fail(c, &music.ValidationError{Field: "form", Err: bindErr})

		return
	}

	stagingDir, err := os.MkdirTemp("", "music-upload-*")
	if err != nil {
		h.fail(c, &music.UnrecoveredFailure{Err: fmt.Errorf("failed to create upload dir: %w", err)})

		return
	}
	defer os.RemoveAll(stagingDir)

	req.LyricsFile, err = h.stageUpload(c, FieldLyricsFile, filepath.Join(stagingDir, AssetLyrics))
	if err != nil {
		h.fail(c, &music.UnrecoveredFailure{Err: err})

		return
	}

	req.TagsFile, err = h.stageUpload(c, FieldTagsFile, filepath.Join(stagingDir, AssetTags))
	if err != nil {
		h.fail(c, &music.UnrecoveredFailure{Err: err})

		return
	}

	path, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)

		return
	}

	url := "/outputs/" + filepath.Base(path)

	c.JSON(http.StatusOK, GenerateResponse{
		Path:        path,
		URL:         url,
		DownloadURL: url + "?download=1",
	})
}

// stageUpload saves the uploaded file in field to dst. It returns "" when
// nothing was uploaded.
func (h *Handler) stageUpload(c *gin.Context, field, dst string) (string, error) {
	file, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}

		return "", fmt.Errorf("failed to read upload %s: %w", field, err)
	}

	err = c.SaveUploadedFile(file, dst)
	if err != nil {
		return "", fmt.Errorf("failed to stage upload %s: %w", field, err)
	}

	return dst, nil
}

func (h *Handler) fail(c *gin.Context, err error) {
	kind := music.ErrorKind(err)

	status := http.StatusInternalServerError
	if kind == music.KindValidation {
		status = http.StatusBadRequest
	} else {
		captureError(c, err)
	}

	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		Kind:      kind,
		RequestID: c.GetString(requestIDKey),
	})
}

// Output serves an artifact from the outputs directory for playback, or as
// an attachment when download=1.
func (h *Handler) Output(c *gin.Context) {
	name := c.Param("name")
	if name != filepath.Base(name) || !output.IsAllowedExt(filepath.Ext(name)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})

		return
	}

	path := filepath.Join(h.outputs.Dir(), name)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})

		return
	}

	if c.Query("download") == "1" {
		c.FileAttachment(path, name)

		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	c.File(path)
}

// Health reports liveness, the detected accelerator and the loaded pipelines.
func (h *Handler) Health(c *gin.Context) {
	keys := h.pipelines.Keys()

	loaded := make([]string, 0, len(keys))
	for _, key := range keys {
		loaded = append(loaded, key.String())
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"accelerator": h.devices.Info(),
		"pipelines":   loaded,
		"outputs_dir": h.outputs.Dir(),
	})
}
