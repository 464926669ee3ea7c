package generator

import (
	"context"
	"fmt"
	"io"

	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/escolalab/class-reports-back/internal/storage"
)

// GenerationError wraps any failure while building or uploading a report:
// query errors, encoding errors and upload errors all surface as one class.
type GenerationError struct {
	Kind domain.ReportKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s report: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// BlobUploader is the slice of the blob store the generators need.
type BlobUploader interface {
	UploadStream(ctx context.Context, key string, body io.Reader, contentType string) (storage.UploadResult, error)
}

// Generator builds one report document for a class and leaves it at the
// given object key. Returning nil means the bytes are durably stored.
type Generator interface {
	Generate(ctx context.Context, classID, objectKey string) error
}

// Registry maps report kinds to generators. An unregistered kind is a
// configuration error, not a user error.
type Registry struct {
	generators map[domain.ReportKind]Generator
}

func NewRegistry() *Registry {
	return &Registry{generators: make(map[domain.ReportKind]Generator)}
}

func (r *Registry) Register(kind domain.ReportKind, g Generator) {
	r.generators[kind] = g
}

func (r *Registry) Lookup(kind domain.ReportKind) (Generator, bool) {
	g, ok := r.generators[kind]
	return g, ok
}

// pipeUpload runs write against the write end of a pipe while the read end
// feeds a multipart upload, then joins the upload before returning. Neither
// side holds the full document.
func pipeUpload(
	ctx context.Context,
	blobs BlobUploader,
	key string,
	contentType string,
	write func(io.Writer) error,
) error {
	reader, writer := io.Pipe()

	uploadDone := make(chan error, 1)
	go func() {
		_, err := blobs.UploadStream(ctx, key, reader, contentType)
		if err != nil {
			// Unblock the writer when the upload dies first.
			reader.CloseWithError(err)
		}
		uploadDone <- err
	}()

	writeErr := write(writer)
	if writeErr != nil {
		writer.CloseWithError(writeErr)
	} else {
		writeErr = writer.Close()
	}

	uploadErr := <-uploadDone
	if writeErr != nil {
		return writeErr
	}
	return uploadErr
}
