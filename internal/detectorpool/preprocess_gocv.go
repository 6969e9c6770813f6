//go:build cgo

package detectorpool

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"sentrynet/internal/model"
)

// GoCVPreprocessor implements Preprocessor with OpenCV via gocv, the
// pattern used for camera frame handling in the retrieved pack
// (MiFaceDEV-miface/pkg/miface/camera_gocv.go). Every Mat is created and
// closed inside a single Prepare call, so Mats never cross goroutines
// (gocv.Mat is not goroutine-safe) even though all of the pool's workers
// share one instance.
type GoCVPreprocessor struct {
	// Float32 selects between float normalization (divide by 255) and
	// pass-through uint8 quantized tensors, per the model's declared
	// input tensor element type.
	Float32 bool
}

// Prepare decodes frame.Data (JPEG bytes) into a Mat, letterbox-resizes it
// to inputW x inputH preserving aspect ratio, converts BGR to RGB, and
// normalizes according to Float32.
func (g *GoCVPreprocessor) Prepare(frame model.FrameData, inputW, inputH int) (Tensor, error) {
	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return Tensor{}, fmt.Errorf("detectorpool: decode frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return Tensor{}, fmt.Errorf("detectorpool: decoded frame is empty")
	}

	origW, origH := mat.Cols(), mat.Rows()
	scale := minFloat(float64(inputW)/float64(origW), float64(inputH)/float64(origH))
	newW := int(float64(origW) * scale)
	newH := int(float64(origH) * scale)
	padX := (inputW - newW) / 2
	padY := (inputH - newH) / 2

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

	letterboxed := gocv.NewMatWithSize(inputH, inputW, mat.Type())
	defer letterboxed.Close()
	letterboxed.SetTo(gocv.NewScalar(114, 114, 114, 0))
	roi := letterboxed.Region(image.Rect(padX, padY, padX+newW, padY+newH))
	resized.CopyTo(&roi)
	roi.Close()

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(letterboxed, &rgb, gocv.ColorBGRToRGB)

	data := make([]float32, 3*inputW*inputH)
	bytes := rgb.ToBytes()
	div := float32(1.0)
	if g.Float32 {
		div = 255.0
	}
	// Planar CHW contiguous copy, channel order already RGB.
	plane := inputW * inputH
	for i := 0; i < plane; i++ {
		r := float32(bytes[i*3+0]) / div
		gch := float32(bytes[i*3+1]) / div
		b := float32(bytes[i*3+2]) / div
		data[i] = r
		data[plane+i] = gch
		data[2*plane+i] = b
	}

	return Tensor{
		Data:           data,
		Width:          inputW,
		Height:         inputH,
		LetterboxScale: scale,
		PadX:           padX,
		PadY:           padY,
		OrigWidth:      origW,
		OrigHeight:     origH,
	}, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
