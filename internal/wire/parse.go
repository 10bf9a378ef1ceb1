// Package wire converts between XML batch documents and processing tasks.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/timkrebs/image-node/internal/models"
	"github.com/timkrebs/image-node/internal/transform"
)

// ErrMalformedInput is returned for documents that cannot be parsed or
// contain no images
var ErrMalformedInput = errors.New("malformed input")

// maxDecompressedSize bounds a single gzip payload
const maxDecompressedSize = 256 << 20

type imageElement struct {
	Format           string                  `xml:"format,attr"`
	Formato          string                  `xml:"formato,attr"`
	Quality          string                  `xml:"quality,attr"`
	Calidad          string                  `xml:"calidad,attr"`
	Transformations  string                  `xml:"transformations,attr"`
	Transformaciones string                  `xml:"transformaciones,attr"`
	Data             string                  `xml:"data"`
	Text             string                  `xml:",chardata"`
	Transformation   []transformationElement `xml:"transformation"`
}

type transformationElement struct {
	Type   string         `xml:"type,attr"`
	Attrs  []xml.Attr     `xml:",any,attr"`
	Params []paramElement `xml:",any"`
}

type paramElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// ParseBatch reads a batch document. Both the structured shape
// (<image><data/><transformation type=".."/></image>) and the compact shape
// (<imagen transformaciones="a, b">payload</imagen>) are accepted, mixed
// freely under any root element.
func ParseBatch(r io.Reader) ([]models.ImageTask, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	var (
		tasks []models.ImageTask
		depth int
		root  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if root {
					return nil, fmt.Errorf("%w: multiple root elements", ErrMalformedInput)
				}
				root = true
			}
			if depth == 1 && isImageElement(t.Name.Local) {
				var el imageElement
				if err := dec.DecodeElement(&el, &t); err != nil {
					return nil, fmt.Errorf("%w: image %d: %w", ErrMalformedInput, len(tasks), err)
				}
				tasks = append(tasks, el.task(len(tasks)))
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}

	if !root {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedInput)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no images found", ErrMalformedInput)
	}
	return tasks, nil
}

func isImageElement(name string) bool {
	return strings.EqualFold(name, "image") || strings.EqualFold(name, "imagen")
}

func (el imageElement) task(index int) models.ImageTask {
	task := models.ImageTask{Index: index}

	if f := firstNonEmpty(el.Format, el.Formato); f != "" {
		if format, ok := models.ParseFormat(f); ok {
			task.Format = format
		}
	}
	if q := firstNonEmpty(el.Quality, el.Calidad); q != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(q)); err == nil && v > 0 {
			task.Quality = min(v, 100)
		}
	}

	for _, tr := range el.Transformation {
		if op, ok := tr.operation(); ok {
			task.Operations = append(task.Operations, op)
		}
	}
	if list := firstNonEmpty(el.Transformations, el.Transformaciones); list != "" {
		task.Operations = append(task.Operations, transform.DecodeTokens(list)...)
	}

	payload := strings.TrimSpace(el.Data)
	if payload == "" {
		payload = strings.TrimSpace(el.Text)
	}
	if payload == "" {
		task.PayloadError = fmt.Sprintf("no image data in image %d", index)
		return task
	}
	data, err := DecodePayload(payload)
	if err != nil {
		task.PayloadError = fmt.Sprintf("image %d: %v", index, err)
		return task
	}
	task.Data = data
	return task
}

// operation collects parameters from child elements and attributes;
// attributes win on conflict. Elements without a type are ignored.
func (tr transformationElement) operation() (models.Operation, bool) {
	kind := strings.TrimSpace(tr.Type)
	if kind == "" {
		return models.Operation{}, false
	}
	raw := make(map[string]string, len(tr.Params)+len(tr.Attrs))
	for _, p := range tr.Params {
		if v := strings.TrimSpace(p.Value); v != "" {
			raw[p.XMLName.Local] = v
		}
	}
	for _, a := range tr.Attrs {
		if a.Name.Local == "type" {
			continue
		}
		raw[a.Name.Local] = a.Value
	}
	return transform.BuildOperation(kind, raw), true
}

// DecodePayload turns a base64 payload into image bytes, gunzipping it when
// it is gzip-compressed and falling back to the raw bytes otherwise.
func DecodePayload(payload string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)

	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
	}

	if data, err := gunzip(raw); err == nil {
		return data, nil
	}
	return raw, nil
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	data, err := io.ReadAll(io.LimitReader(zr, maxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDecompressedSize {
		return nil, errors.New("decompressed payload too large")
	}
	return data, nil
}

// charsetReader accepts the encodings the documents are declared with in
// practice; anything else is read as-is.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8", "us-ascii", "ascii", "":
		return input, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
