package detectorpool

import (
	"sort"

	"sentrynet/internal/model"
)

// postprocess decodes raw engine output into detections in original-frame
// pixel coordinates: confidence threshold, per-class NMS (a box only
// suppresses lower-scored boxes of its own class), then rescale from
// letterbox space, then category filter (spec.md §4.3).
func (p *Pool) postprocess(raw RawOutput, t Tensor) []model.Detection {
	confidenceThreshold, nmsIoUThreshold := p.Thresholds()

	type cand struct {
		box   [4]float32
		score float32
		class int
		name  string
	}
	var cands []cand
	for i, score := range raw.Scores {
		if score < confidenceThreshold {
			continue
		}
		cands = append(cands, cand{box: raw.Boxes[i], score: score, class: raw.ClassIDs[i], name: nameOf(raw, i)})
	}
	if len(cands) == 0 {
		return []model.Detection{}
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	suppressed := make([]bool, len(cands))
	var kept []cand
	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || cands[j].class != cands[i].class {
				continue
			}
			if iouCxCyWH(cands[i].box, cands[j].box) > nmsIoUThreshold {
				suppressed[j] = true
			}
		}
	}

	out := make([]model.Detection, 0, len(kept))
	for _, c := range kept {
		if !p.categoryAllowed(c.class) {
			continue
		}
		out = append(out, model.Detection{
			ClassID:    c.class,
			ClassName:  c.name,
			Confidence: c.score,
			Box:        rescaleBox(c.box, t),
		})
	}

	if max := p.MaxDetections(); max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func nameOf(raw RawOutput, i int) string {
	if i < len(raw.ClassNames) {
		return raw.ClassNames[i]
	}
	return ""
}

// iouCxCyWH computes IoU for boxes in (center_x, center_y, w, h) form.
func iouCxCyWH(a, b [4]float32) float64 {
	ax1, ay1 := a[0]-a[2]/2, a[1]-a[3]/2
	ax2, ay2 := a[0]+a[2]/2, a[1]+a[3]/2
	bx1, by1 := b[0]-b[2]/2, b[1]-b[3]/2
	bx2, by2 := b[0]+b[2]/2, b[1]+b[3]/2

	ix1, iy1 := maxf(ax1, bx1), maxf(ay1, by1)
	ix2, iy2 := minf(ax2, bx2), minf(ay2, by2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	areaA := float64(a[2] * a[3])
	areaB := float64(b[2] * b[3])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// rescaleBox maps a center-form box from letterboxed tensor space back to
// original frame pixel coordinates, undoing the pad and scale recorded
// during preprocessing.
func rescaleBox(b [4]float32, t Tensor) model.BBox {
	cx := (float64(b[0]) - float64(t.PadX)) / t.LetterboxScale
	cy := (float64(b[1]) - float64(t.PadY)) / t.LetterboxScale
	w := float64(b[2]) / t.LetterboxScale
	h := float64(b[3]) / t.LetterboxScale

	x := int(cx - w/2)
	y := int(cy - h/2)
	return clampBox(model.BBox{X: x, Y: y, W: int(w), H: int(h)}, t.OrigWidth, t.OrigHeight)
}

func clampBox(b model.BBox, maxW, maxH int) model.BBox {
	if b.X < 0 {
		b.W += b.X
		b.X = 0
	}
	if b.Y < 0 {
		b.H += b.Y
		b.Y = 0
	}
	if b.X+b.W > maxW {
		b.W = maxW - b.X
	}
	if b.Y+b.H > maxH {
		b.H = maxH - b.Y
	}
	if b.W < 0 {
		b.W = 0
	}
	if b.H < 0 {
		b.H = 0
	}
	return b
}
