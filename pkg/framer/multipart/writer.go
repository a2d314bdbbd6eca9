package multipart

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/yourusername/framer/pkg/framer/http11"
)

// ErrWriterClosed is returned by CreateSection after Close.
var ErrWriterClosed = errors.New("multipart: writer closed")

// Writer builds a multipart body.
type Writer struct {
	w        io.Writer
	boundary string
	sections int
	closed   bool
}

// NewWriter returns a Writer with a random boundary.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, boundary: "framer-" + uuid.NewString()}
}

// SetBoundary overrides the boundary. It must be called before the first
// section is created.
func (w *Writer) SetBoundary(boundary string) error {
	if w.sections > 0 {
		return errors.New("multipart: SetBoundary called after write")
	}
	if boundary == "" || len(boundary) > MaxBoundaryLength {
		return fmt.Errorf("%w: invalid length %d", ErrNoBoundary, len(boundary))
	}
	if strings.ContainsAny(boundary, "\r\n") {
		return fmt.Errorf("%w: contains CR or LF", ErrNoBoundary)
	}
	w.boundary = boundary
	return nil
}

// Boundary returns the boundary in use.
func (w *Writer) Boundary() string { return w.boundary }

// FormDataContentType returns the Content-Type for a multipart/form-data
// body using this boundary.
func (w *Writer) FormDataContentType() string {
	b := w.boundary
	if strings.ContainsAny(b, `()<>@,;:\"/[]?= `) {
		b = `"` + b + `"`
	}
	return "multipart/form-data; boundary=" + b
}

// CreateSection writes a delimiter and the given header block and returns
// a writer for the section body. h may be nil.
func (w *Writer) CreateSection(h *http11.Header) (io.Writer, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	var err error
	if w.sections == 0 {
		_, err = fmt.Fprintf(w.w, "--%s\r\n", w.boundary)
	} else {
		_, err = fmt.Fprintf(w.w, "\r\n--%s\r\n", w.boundary)
	}
	if err != nil {
		return nil, err
	}
	if h != nil {
		if _, err := h.WriteTo(w.w); err != nil {
			return nil, err
		}
	}
	if _, err := io.WriteString(w.w, "\r\n"); err != nil {
		return nil, err
	}
	w.sections++
	return w.w, nil
}

// CreateFormField starts a form-data section for a plain field.
func (w *Writer) CreateFormField(name string) (io.Writer, error) {
	h := http11.NewHeader()
	if err := h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, escapeQuotes(name))); err != nil {
		return nil, err
	}
	return w.CreateSection(h)
}

// CreateFormFile starts a form-data section for a file upload.
func (w *Writer) CreateFormFile(name, filename string) (io.Writer, error) {
	h := http11.NewHeader()
	cd := fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(name), escapeQuotes(filename))
	if err := h.Set("Content-Disposition", cd); err != nil {
		return nil, err
	}
	if err := h.Set("Content-Type", "application/octet-stream"); err != nil {
		return nil, err
	}
	return w.CreateSection(h)
}

// Close writes the closing delimiter.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.sections == 0 {
		_, err := fmt.Fprintf(w.w, "--%s--\r\n", w.boundary)
		return err
	}
	_, err := fmt.Fprintf(w.w, "\r\n--%s--\r\n", w.boundary)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
