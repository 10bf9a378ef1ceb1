package wire

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/timkrebs/image-node/internal/models"
)

// TimestampLayout is the layout of generation and error timestamps
const TimestampLayout = "2006-01-02 15:04:05"

// Options controls result payload encoding
type Options struct {
	// Compress gzips every payload before base64 encoding
	Compress bool
	// Level is the gzip level; zero means gzip.DefaultCompression
	Level int
}

// ResponseWriter streams response documents, flushing after every image
type ResponseWriter struct {
	w    io.Writer
	buf  *bufio.Writer
	enc  *xml.Encoder
	opts Options
	now  func() time.Time
}

// NewResponseWriter creates a ResponseWriter writing to w
func NewResponseWriter(w io.Writer, opts Options) *ResponseWriter {
	if opts.Level == 0 {
		opts.Level = gzip.DefaultCompression
	}
	buf := bufio.NewWriter(w)
	return &ResponseWriter{
		w:    w,
		buf:  buf,
		enc:  xml.NewEncoder(buf),
		opts: opts,
		now:  time.Now,
	}
}

// IsConversion reports whether a batch is a single-image format conversion
func IsConversion(tasks []models.ImageTask) bool {
	if len(tasks) != 1 || len(tasks[0].Operations) == 0 {
		return false
	}
	for _, op := range tasks[0].Operations {
		if op.Kind != models.OperationConvert {
			return false
		}
	}
	return true
}

// WriteBatch writes a batch response with one element per result
func (rw *ResponseWriter) WriteBatch(results []models.ImageResult) error {
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}

	if err := rw.header(); err != nil {
		return err
	}
	root := xml.StartElement{
		Name: xml.Name{Local: "imagenes_procesadas"},
		Attr: []xml.Attr{
			attr("total_processed", strconv.Itoa(len(results)-failed)),
			attr("total_errors", strconv.Itoa(failed)),
		},
	}
	if err := rw.enc.EncodeToken(root); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	for _, r := range results {
		if err := rw.writeResult(r); err != nil {
			return err
		}
	}
	if err := rw.enc.EncodeToken(root.End()); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return rw.flush()
}

// WriteConversion writes the single-image conversion document. A failed
// conversion is written as an error document.
func (rw *ResponseWriter) WriteConversion(res models.ImageResult) error {
	if !res.OK {
		return rw.WriteError(422, res.Error)
	}
	if err := rw.header(); err != nil {
		return err
	}
	root := xml.StartElement{Name: xml.Name{Local: "imagen_convertida"}}
	if err := rw.enc.EncodeToken(root); err != nil {
		return fmt.Errorf("write conversion: %w", err)
	}
	if err := rw.writeResult(res); err != nil {
		return err
	}
	if err := rw.enc.EncodeToken(root.End()); err != nil {
		return fmt.Errorf("write conversion: %w", err)
	}
	return rw.flush()
}

// WriteError writes an error document
func (rw *ResponseWriter) WriteError(code int, msg string) error {
	if err := rw.header(); err != nil {
		return err
	}
	doc := struct {
		XMLName   xml.Name `xml:"error"`
		Code      int      `xml:"code,attr"`
		Timestamp string   `xml:"timestamp,attr"`
		Message   string   `xml:"message"`
	}{
		Code:      code,
		Timestamp: rw.now().Format(TimestampLayout),
		Message:   msg,
	}
	if err := rw.enc.Encode(doc); err != nil {
		return fmt.Errorf("write error document: %w", err)
	}
	return rw.flush()
}

func (rw *ResponseWriter) writeResult(r models.ImageResult) error {
	el := xml.StartElement{Name: xml.Name{Local: "imagen"}}
	el.Attr = append(el.Attr, attr("indice_original", strconv.Itoa(r.Index)))

	if !r.OK {
		el.Attr = append(el.Attr, attr("error", r.Error))
		if err := rw.enc.EncodeToken(el); err != nil {
			return fmt.Errorf("write image %d: %w", r.Index, err)
		}
		if err := rw.enc.EncodeToken(el.End()); err != nil {
			return fmt.Errorf("write image %d: %w", r.Index, err)
		}
		return rw.flush()
	}

	payload, err := rw.payload(r.Data)
	if err != nil {
		return fmt.Errorf("encode image %d: %w", r.Index, err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = rw.now()
	}
	el.Attr = append(el.Attr,
		attr("formato", string(r.Format)),
		attr("calidad", strconv.Itoa(r.Quality)),
		attr("transformaciones", strings.Join(r.Applied, ", ")),
		attr("total_transformaciones", strconv.Itoa(len(r.Applied))),
		attr("tamaño_original", dimensions(r.OriginalWidth, r.OriginalHeight)),
		attr("tamaño_final", dimensions(r.Width, r.Height)),
		attr("fecha_generacion", created.Format(TimestampLayout)),
	)
	if err := rw.enc.EncodeToken(el); err != nil {
		return fmt.Errorf("write image %d: %w", r.Index, err)
	}
	if err := rw.enc.EncodeToken(xml.CharData(payload)); err != nil {
		return fmt.Errorf("write image %d: %w", r.Index, err)
	}
	if err := rw.enc.EncodeToken(el.End()); err != nil {
		return fmt.Errorf("write image %d: %w", r.Index, err)
	}
	return rw.flush()
}

// payload returns the base64 text for data, gzipped when enabled
func (rw *ResponseWriter) payload(data []byte) ([]byte, error) {
	if !rw.opts.Compress {
		out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
		base64.StdEncoding.Encode(out, data)
		return out, nil
	}

	var out bytes.Buffer
	b64 := base64.NewEncoder(base64.StdEncoding, &out)
	zw, err := gzip.NewWriterLevel(b64, rw.opts.Level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	if err := b64.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (rw *ResponseWriter) header() error {
	if _, err := rw.buf.WriteString(xml.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// flush pushes buffered output through to the client
func (rw *ResponseWriter) flush() error {
	if err := rw.enc.Flush(); err != nil {
		return err
	}
	if err := rw.buf.Flush(); err != nil {
		return err
	}
	if f, ok := rw.w.(interface{ Flush() }); ok {
		f.Flush()
	}
	return nil
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func dimensions(w, h int) string {
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}
