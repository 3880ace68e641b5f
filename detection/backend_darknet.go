package detection

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const darknetInputSize = 608

// darknetBackend runs the classical-network family through the
// OpenCV darknet importer. The importer applies the anchor-box grid
// decode inside its region/yolo layers, so each output row is already
// a normalized box plus objectness and per-class probabilities.
type darknetBackend struct {
	net     gocv.Net
	outputs []string
}

func newDarknetBackend(weightsPath, configPath string) (*darknetBackend, error) {
	net := gocv.ReadNetFromDarknet(configPath, weightsPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load darknet network from %s and %s", weightsPath, configPath)
	}

	layerNames := net.GetLayerNames()
	var outputs []string
	for _, idx := range net.GetUnconnectedOutLayers() {
		if idx-1 >= 0 && idx-1 < len(layerNames) {
			outputs = append(outputs, layerNames[idx-1])
		}
	}
	if len(outputs) == 0 {
		net.Close()
		return nil, fmt.Errorf("darknet network has no output layers")
	}

	return &darknetBackend{net: net, outputs: outputs}, nil
}

func (b *darknetBackend) name() string { return FormatDarknet.String() }

func (b *darknetBackend) setTarget(backend gocv.NetBackendType, target gocv.NetTargetType) {
	b.net.SetPreferableBackend(backend)
	b.net.SetPreferableTarget(target)
}

func (b *darknetBackend) forward(frame gocv.Mat) ([]candidate, error) {
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(darknetInputSize, darknetInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	b.net.SetInput(blob, "")
	outputs := b.net.ForwardLayers(b.outputs)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	frameW := float64(frame.Cols())
	frameH := float64(frame.Rows())

	var cands []candidate
	for _, output := range outputs {
		cols := output.Cols()
		if cols < 5 {
			return nil, fmt.Errorf("darknet output has %d columns, want >= 5", cols)
		}
		for r := 0; r < output.Rows(); r++ {
			classID, score := bestClassScore(output, r, 5, cols)

			cx := float64(output.GetFloatAt(r, 0)) * frameW
			cy := float64(output.GetFloatAt(r, 1)) * frameH
			w := float64(output.GetFloatAt(r, 2)) * frameW
			h := float64(output.GetFloatAt(r, 3)) * frameH

			cands = append(cands, candidate{
				box:     boxFromCenter(cx, cy, w, h),
				classID: classID,
				score:   score,
			})
		}
	}
	return cands, nil
}

func (b *darknetBackend) close() error {
	return b.net.Close()
}

// bestClassScore scans the class-probability columns of one row.
func bestClassScore(m gocv.Mat, row, from, to int) (int, float64) {
	best := -1
	bestScore := float64(0)
	for c := from; c < to; c++ {
		if s := float64(m.GetFloatAt(row, c)); s > bestScore {
			bestScore = s
			best = c - from
		}
	}
	return best, bestScore
}

func boxFromCenter(cx, cy, w, h float64) image.Rectangle {
	left := int(cx - w/2)
	top := int(cy - h/2)
	return image.Rect(left, top, left+int(w), top+int(h))
}
