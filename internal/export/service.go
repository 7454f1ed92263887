package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pingin/api/internal/annotation"
	"pingin/api/internal/document"
	"pingin/api/internal/overlay"
)

type renderFunc func(ctx context.Context, html string) ([]byte, error)

type Service struct {
	pdf     renderFunc
	docx    renderFunc
	archive ObjectStore
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithArchive stores every export in store.
func WithArchive(store ObjectStore) Option {
	return func(s *Service) { s.archive = store }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(opts ...Option) *Service {
	s := &Service{pdf: renderPDF, docx: renderDOCX, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HTML renders the essay page: canonical text with live annotations drawn
// inline and, when requested, the comments listed as numbered notes.
func HTML(in Input) (string, error) {
	composed := overlay.Compose(in.Text, in.Annotations, nil)
	notes := map[string]int{}
	var list []TemplateNote
	if in.IncludeComments {
		doc := document.New(in.DocumentID, in.Text, in.Version)
		for _, seg := range composed.Segments {
			if seg.Style != overlay.StyleComment {
				continue
			}
			if _, seen := notes[seg.Key]; seen {
				continue
			}
			a, ok := findAnnotation(in.Annotations, seg.Key)
			if !ok {
				continue
			}
			c := a.Body.(annotation.Comment)
			notes[seg.Key] = len(list) + 1
			list = append(list, TemplateNote{Number: len(list) + 1, Quote: doc.Slice(c.Start, c.End), Body: c.Text})
		}
	}
	return RenderDocumentHTML(TemplateData{
		Title:       in.Title,
		Author:      in.Author,
		Version:     in.Version,
		UpdatedAt:   in.UpdatedAt,
		ContentHTML: SegmentsToHTML(composed.Segments, notes),
		Notes:       list,
	})
}

func findAnnotation(anns []annotation.Annotation, key string) (annotation.Annotation, bool) {
	for _, a := range anns {
		if a.Key == key {
			return a, true
		}
	}
	return annotation.Annotation{}, false
}

func (s *Service) Export(ctx context.Context, in Input, format Format) (*Result, error) {
	page, err := HTML(in)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	res := &Result{Filename: sanitizeFilename(in.Title) + "." + string(format)}
	switch format {
	case FormatHTML:
		res.Data, res.MimeType = []byte(page), "text/html; charset=utf-8"
	case FormatPDF:
		res.MimeType = "application/pdf"
		res.Data, err = s.pdf(ctx, page)
	case FormatDOCX:
		res.MimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		res.Data, err = s.docx(ctx, page)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		key := fmt.Sprintf("documents/%s/%s-%s", in.DocumentID, s.now().UTC().Format("20060102T150405Z"), res.Filename)
		link, err := s.archive.Put(ctx, key, res.MimeType, res.Data)
		if err != nil {
			s.logger.Warn("export archive failed", "document_id", in.DocumentID, "error", err)
		} else {
			res.ArchiveURL = link
		}
	}
	return res, nil
}
