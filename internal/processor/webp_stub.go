//go:build !govips || !cgo

package processor

import (
	"errors"
	"image"
)

func Startup() error {
	return nil
}

func Shutdown() {}

// WEBPSupported reports whether WEBP output is available in this build
func WEBPSupported() bool { return false }

func encodeWEBP(*image.NRGBA, int) ([]byte, error) {
	return nil, errors.New("webp output requires a build with the govips tag")
}
