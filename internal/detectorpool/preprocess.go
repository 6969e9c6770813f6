package detectorpool

import (
	"sentrynet/internal/model"
)

// Preprocessor turns a captured frame into a model-ready Tensor: letterbox
// resize preserving aspect ratio, color conversion to the model's channel
// order, normalization, and a contiguous copy into the tensor buffer
// (spec.md §4.3 Preprocessing pipeline).
type Preprocessor interface {
	Prepare(frame model.FrameData, inputW, inputH int) (Tensor, error)
}
