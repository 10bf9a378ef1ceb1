package models

import "time"

// ImageTask is one image of a batch together with its requested work
type ImageTask struct {
	// PayloadError is set when the wire payload could not be turned into bytes.
	PayloadError string
	Format       Format
	Data         []byte
	Operations   []Operation
	Index        int
	Quality      int
}

// ImageResult is the outcome of processing one ImageTask
type ImageResult struct {
	CreatedAt      time.Time
	Error          string
	Format         Format
	Data           []byte
	Applied        []string
	Index          int
	Quality        int
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
	OK             bool
}

// Success builds a successful result
func Success(index int, data []byte, format Format, quality int, applied []string) ImageResult {
	return ImageResult{
		Index:     index,
		OK:        true,
		Data:      data,
		Format:    format,
		Quality:   quality,
		Applied:   applied,
		CreatedAt: time.Now().UTC(),
	}
}

// Failure builds a failed result carrying msg
func Failure(index int, msg string) ImageResult {
	return ImageResult{Index: index, Error: msg, CreatedAt: time.Now().UTC()}
}

// NodeState is the coarse state of a processing node
type NodeState string

const (
	StateIdle       NodeState = "idle"
	StateReceiving  NodeState = "receiving"
	StateProcessing NodeState = "processing"
	StateError      NodeState = "error"
)

// Status is a point-in-time snapshot of node activity
type Status struct {
	State     NodeState `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	InFlight  int       `json:"in_flight"`
	Capacity  int       `json:"capacity"`
}
