// Package detection loads an object-detection model and runs frames
// through it. The model artifact's container format is inspected at
// load time to pick one of three backends (darknet grids, Torch
// archives, ONNX graphs), all executed through the OpenCV DNN module
// and sharing one post-decode pipeline.
package detection

import (
	"fmt"
	"image"
)

// Detection is one filtered detector output. Box coordinates are
// ordered and clipped to the frame bounds; Confidence lies in [0,1].
type Detection struct {
	Box        image.Rectangle
	Class      string
	Confidence float64
}

// Center returns the box centroid.
func (d Detection) Center() image.Point {
	return image.Pt((d.Box.Min.X+d.Box.Max.X)/2, (d.Box.Min.Y+d.Box.Max.Y)/2)
}

// ModelLoadError is fatal: startup aborts and the error surfaces to
// the caller.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError marks a single bad frame. The pipeline logs it and
// treats the cycle as "no detections"; it never stops the loop.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// candidate is a decoded, pre-filter network output.
type candidate struct {
	box     image.Rectangle
	classID int
	score   float64
}
