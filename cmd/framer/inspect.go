package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/yourusername/framer/pkg/framer"
	"github.com/yourusername/framer/pkg/framer/config"
	"github.com/yourusername/framer/pkg/framer/form"
	"github.com/yourusername/framer/pkg/framer/http11"
	"github.com/yourusername/framer/pkg/framer/kv"
	"github.com/yourusername/framer/pkg/framer/multipart"
	"github.com/yourusername/framer/pkg/framer/spool"
)

// inspector decodes a request body according to its Content-Type and
// summarizes what it found.
type inspector struct {
	cfg    config.Config
	fs     afero.Fs
	pool   *framer.BufferPool
	logger logrus.FieldLogger
}

type sectionSummary struct {
	Name        string
	FileName    string
	ContentType string
	Size        int64
}

type report struct {
	Method  string
	Target  string
	Version string
	Header  *http11.Header

	ContentLength int64
	Chunked       bool
	Close         bool

	// Set for opaque bodies.
	BodySize int64
	BodyMode string
	Digest   string

	Sections []sectionSummary
	Form     []kv.Entry
	Trailer  *http11.Header
}

func (in *inspector) inspect(ctx context.Context, req *http11.Request) (*report, error) {
	rep := &report{
		Method:        req.Method,
		Target:        req.Target,
		Version:       req.Version.String(),
		Header:        req.Header,
		ContentLength: req.ContentLength,
		Chunked:       req.Chunked,
		Close:         req.Close,
	}
	if !req.HasBody() {
		return rep, nil
	}

	mediaType, _, _ := mime.ParseMediaType(req.ContentType())
	var err error
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		err = in.readSections(ctx, req, rep)
	case mediaType == "application/x-www-form-urlencoded":
		err = in.readForm(ctx, req, rep)
	default:
		err = in.spoolBody(ctx, req, rep)
	}
	if err != nil {
		return nil, err
	}
	rep.Trailer = req.Trailer()
	return rep, nil
}

func (in *inspector) readSections(ctx context.Context, req *http11.Request, rep *report) error {
	boundary, err := multipart.BoundaryFromContentType(req.ContentType())
	if err != nil {
		return err
	}
	mr := multipart.NewReaderOptions(req.Body, boundary, in.cfg.MultipartOptions(in.pool))
	defer mr.Close()

	for {
		sec, err := mr.NextSection(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		sum := sectionSummary{ContentType: sec.ContentType()}
		if cd, err := sec.ContentDisposition(); err == nil {
			sum.Name, sum.FileName = cd.Name(), cd.FileName()
		}
		if sum.Size, err = io.Copy(io.Discard, sec.Body); err != nil {
			return err
		}
		rep.Sections = append(rep.Sections, sum)
	}
}

func (in *inspector) readForm(ctx context.Context, req *http11.Request, rep *report) error {
	fr := form.NewReaderOptions(req.Body, in.cfg.FormOptions(in.pool))
	defer fr.Close()

	entries, err := fr.ReadForm(ctx)
	if err != nil {
		return err
	}
	rep.Form = entries
	return nil
}

// spoolBody buffers the body, then rewinds and hashes it.
func (in *inspector) spoolBody(ctx context.Context, req *http11.Request, rep *report) error {
	sp := spool.New(req.Body, in.cfg.SpoolOptions(in.fs, in.logger, in.pool))
	defer sp.Close()

	if err := sp.BufferAll(ctx); err != nil {
		return err
	}
	if _, err := sp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h := sha256.New()
	if _, err := io.Copy(h, sp); err != nil {
		return err
	}
	rep.BodySize = sp.Len()
	rep.BodyMode = sp.Mode().String()
	rep.Digest = hex.EncodeToString(h.Sum(nil))
	return nil
}

// WriteTo writes a plain text summary.
func (r *report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", r.Method, r.Target, r.Version)
	r.Header.VisitAll(func(name, value string) bool {
		fmt.Fprintf(&b, "  %s: %s\n", name, value)
		return true
	})

	switch {
	case r.Chunked:
		b.WriteString("body: chunked\n")
	case r.ContentLength >= 0:
		fmt.Fprintf(&b, "body: %d bytes\n", r.ContentLength)
	default:
		b.WriteString("body: none\n")
	}
	if r.Close {
		b.WriteString("connection: close\n")
	}
	if r.Digest != "" {
		fmt.Fprintf(&b, "spooled: %d bytes %s sha256=%s\n", r.BodySize, r.BodyMode, r.Digest)
	}
	for i, s := range r.Sections {
		fmt.Fprintf(&b, "section %d: name=%q filename=%q type=%q size=%d\n", i, s.Name, s.FileName, s.ContentType, s.Size)
	}
	for _, e := range r.Form {
		fmt.Fprintf(&b, "form %s = %q\n", e.Key, e.Values)
	}
	r.Trailer.VisitAll(func(name, value string) bool {
		fmt.Fprintf(&b, "trailer %s: %s\n", name, value)
		return true
	})

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
