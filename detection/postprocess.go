package detection

import (
	"image"
	"sort"
)

// iou is the intersection-over-union overlap of two boxes.
func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

// postprocess runs the shared post-decode pipeline: confidence
// filter, greedy NMS, then a cap on the detection count. Boxes are
// clipped to the frame bounds before anything else so downstream
// invariants hold regardless of backend decode quirks.
func postprocess(cands []candidate, frameBounds image.Rectangle, classNames []string, confidenceThreshold, nmsThreshold float64, maxDetections int) []Detection {
	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		c.box = c.box.Intersect(frameBounds)
		if c.box.Empty() {
			continue
		}
		if c.score < confidenceThreshold {
			continue
		}
		if c.classID < 0 || c.classID >= len(classNames) {
			continue
		}
		kept = append(kept, c)
	}

	// Greedy NMS: highest confidence first, stable so equal scores
	// keep their original decode order.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})

	var out []Detection
	for _, c := range kept {
		suppressed := false
		for _, k := range out {
			if iou(c.box, k.Box) >= nmsThreshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}
		out = append(out, Detection{
			Box:        c.box,
			Class:      classNames[c.classID],
			Confidence: c.score,
		})
		if maxDetections > 0 && len(out) >= maxDetections {
			break
		}
	}
	return out
}
