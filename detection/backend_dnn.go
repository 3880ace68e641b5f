package detection

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const graphInputSize = 640

// graphBackend covers the tensor-graph and optimized-runtime
// families. Both take one image tensor in and emit one detection
// tensor out under the same fixed contract (rows of
// [cx, cy, w, h, objectness, class scores...] in input-pixel space);
// only the execution engine behind gocv.ReadNet differs.
type graphBackend struct {
	net        gocv.Net
	format     Format
	numClasses int
}

func newGraphBackend(path string, format Format, numClasses int) (*graphBackend, error) {
	var net gocv.Net
	switch format {
	case FormatTorch:
		net = gocv.ReadNetFromTorch(path)
	case FormatONNX:
		net = gocv.ReadNetFromONNX(path)
	default:
		return nil, fmt.Errorf("format %s is not a graph backend", format)
	}
	if net.Empty() {
		return nil, fmt.Errorf("failed to load %s network from %s", format, path)
	}
	return &graphBackend{net: net, format: format, numClasses: numClasses}, nil
}

func (b *graphBackend) name() string { return b.format.String() }

func (b *graphBackend) setTarget(backend gocv.NetBackendType, target gocv.NetTargetType) {
	b.net.SetPreferableBackend(backend)
	b.net.SetPreferableTarget(target)
}

func (b *graphBackend) forward(frame gocv.Mat) ([]candidate, error) {
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(graphInputSize, graphInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	b.net.SetInput(blob, "")
	output := b.net.Forward("")
	defer output.Close()

	cols := b.numClasses + 5
	total := output.Total()
	if total == 0 || total%cols != 0 {
		return nil, fmt.Errorf("%s output size %d does not match %d columns", b.format, total, cols)
	}
	rows := total / cols

	flat := output.Reshape(1, rows)
	defer flat.Close()

	scaleX := float64(frame.Cols()) / graphInputSize
	scaleY := float64(frame.Rows()) / graphInputSize

	var cands []candidate
	for r := 0; r < rows; r++ {
		objectness := float64(flat.GetFloatAt(r, 4))
		classID, classScore := bestClassScore(flat, r, 5, cols)

		cx := float64(flat.GetFloatAt(r, 0)) * scaleX
		cy := float64(flat.GetFloatAt(r, 1)) * scaleY
		w := float64(flat.GetFloatAt(r, 2)) * scaleX
		h := float64(flat.GetFloatAt(r, 3)) * scaleY

		cands = append(cands, candidate{
			box:     boxFromCenter(cx, cy, w, h),
			classID: classID,
			score:   objectness * classScore,
		})
	}
	return cands, nil
}

func (b *graphBackend) close() error {
	return b.net.Close()
}
