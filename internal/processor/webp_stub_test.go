//go:build !govips || !cgo

package processor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/timkrebs/image-node/internal/models"
)

func TestEncodeWEBP_UnavailableWithoutGovips(t *testing.T) {
	if WEBPSupported() {
		t.Skip("webp export available")
	}
	p := New("")
	_, err := p.Encode(&Image{Pixels: createTestImage(8, 8)}, models.FormatWEBP, 80)
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("Encode(WEBP) error = %v, want ErrEncode", err)
	}

	// isolated as an image failure by the pipeline
	res := NewPipeline(p, PipelineConfig{}, nil).Apply(context.Background(), models.ImageTask{
		Index:  2,
		Data:   encodeTestImage(t, createTestImage(8, 8), "png"),
		Format: models.FormatWEBP,
	}, 5)
	if res.OK || !strings.Contains(res.Error, "encode") {
		t.Errorf("result = ok:%v err:%q, want encode failure", res.OK, res.Error)
	}
}
