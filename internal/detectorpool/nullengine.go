package detectorpool

import "context"

// NullEngine is the Engine a process wires in when no accelerator
// runtime is configured: every inference call returns zero detections.
// It exists so the Detector Pool's worker goroutines, queueing, and
// postprocessing can run end to end without a concrete accelerator
// backend, which spec.md's Non-goals deliberately leave unspecified.
// Production deployments replace this with an Engine over the vendor
// SDK or ONNX/TensorRT runtime of their choice.
type NullEngine struct{}

func (NullEngine) NewContext() (Context, error) { return nullContext{}, nil }

type nullContext struct{}

func (nullContext) Infer(ctx context.Context, t Tensor) (RawOutput, error) {
	return RawOutput{}, nil
}

func (nullContext) Close() error { return nil }
