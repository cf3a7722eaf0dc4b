package modelparams

import (
	"encoding/json"

	"github.com/axionml/inferlink/errors"
)

// Typed accessors for the parameter catalog. Getter names match the
// parameter names as they appear in the configuration document; setters
// carry a Set prefix and existence checks an Exists suffix. Vector-section
// parameters take the element index inside their section.

func (p *Params) stringParam(name string, idx int) string {
	return toString(p.resolve(name, idx))
}

func (p *Params) intParam(name string, idx int) int {
	return toInt(p.resolve(name, idx))
}

func (p *Params) floatParam(name string, idx int) float64 {
	return toFloat(p.resolve(name, idx))
}

func (p *Params) boolParam(name string, idx int) bool {
	return toBool(p.resolve(name, idx))
}

// ConfigVersion returns the version of the configuration document format.
func (p *Params) ConfigVersion() int { return p.intParam("ConfigVersion", 0) }

// SetConfigVersion sets the configuration document format version.
func (p *Params) SetConfigVersion(v int) *Params { return p.set("ConfigVersion", 0, v) }

// ConfigVersionExists reports whether the document carries a version.
func (p *Params) ConfigVersionExists() bool { return p.exists("ConfigVersion", 0) }

// DeviceType returns the device type on which the model runs.
func (p *Params) DeviceType() string { return p.stringParam("DeviceType", 0) }

// SetDeviceType sets the device type on which the model runs.
func (p *Params) SetDeviceType(v string) *Params { return p.set("DeviceType", 0, v) }

// DeviceTypeExists reports whether the device type is present.
func (p *Params) DeviceTypeExists() bool { return p.exists("DeviceType", 0) }

// RuntimeAgent returns the runtime agent type on which the model runs.
func (p *Params) RuntimeAgent() string { return p.stringParam("RuntimeAgent", 0) }

// SetRuntimeAgent sets the runtime agent type.
func (p *Params) SetRuntimeAgent(v string) *Params { return p.set("RuntimeAgent", 0, v) }

// RuntimeAgentExists reports whether the runtime agent is present.
func (p *Params) RuntimeAgentExists() bool { return p.exists("RuntimeAgent", 0) }

// DeviceTimeoutMS returns the per-frame device timeout in milliseconds.
func (p *Params) DeviceTimeoutMS() float64 { return p.floatParam("DeviceTimeoutMS", 0) }

// SetDeviceTimeoutMS sets the per-frame device timeout in milliseconds.
func (p *Params) SetDeviceTimeoutMS(v float64) *Params { return p.set("DeviceTimeoutMS", 0, v) }

// DeviceTimeoutMSExists reports whether the device timeout is present.
func (p *Params) DeviceTimeoutMSExists() bool { return p.exists("DeviceTimeoutMS", 0) }

// EagerBatchSize returns the batch size used for eager batching.
func (p *Params) EagerBatchSize() int { return p.intParam("EagerBatchSize", 0) }

// SetEagerBatchSize sets the batch size used for eager batching.
func (p *Params) SetEagerBatchSize(v int) *Params { return p.set("EagerBatchSize", 0, v) }

// EagerBatchSizeExists reports whether the eager batch size is present.
func (p *Params) EagerBatchSizeExists() bool { return p.exists("EagerBatchSize", 0) }

// ModelPath returns the path of the model binary.
func (p *Params) ModelPath() string { return p.stringParam("ModelPath", 0) }

// SetModelPath sets the path of the model binary.
func (p *Params) SetModelPath(v string) *Params { return p.set("ModelPath", 0, v) }

// ModelPathExists reports whether the model path is present.
func (p *Params) ModelPathExists() bool { return p.exists("ModelPath", 0) }

// ModelQuantized reports whether the model is quantized.
func (p *Params) ModelQuantized() bool { return p.boolParam("ModelQuantized", 0) }

// SetModelQuantized sets the model quantization flag.
func (p *Params) SetModelQuantized(v bool) *Params { return p.set("ModelQuantized", 0, v) }

// ModelPruned reports whether the model is pruned (not dense).
func (p *Params) ModelPruned() bool { return p.boolParam("ModelPruned", 0) }

// SetModelPruned sets the model pruned flag.
func (p *Params) SetModelPruned(v bool) *Params { return p.set("ModelPruned", 0, v) }

// InputType returns the input data type of the given model input.
func (p *Params) InputType(idx int) string { return p.stringParam("InputType", idx) }

// SetInputType sets the input data type of the given model input.
func (p *Params) SetInputType(idx int, v string) *Params { return p.set("InputType", idx, v) }

// InputTypeExists reports whether the input data type is present.
func (p *Params) InputTypeExists(idx int) bool { return p.exists("InputType", idx) }

// InputN returns the input frame depth of the given model input.
func (p *Params) InputN(idx int) int { return p.intParam("InputN", idx) }

// SetInputN sets the input frame depth of the given model input.
func (p *Params) SetInputN(idx, v int) *Params { return p.set("InputN", idx, v) }

// InputNExists reports whether the input frame depth is present.
func (p *Params) InputNExists(idx int) bool { return p.exists("InputN", idx) }

// InputH returns the input height of the given model input.
func (p *Params) InputH(idx int) int { return p.intParam("InputH", idx) }

// SetInputH sets the input height of the given model input.
func (p *Params) SetInputH(idx, v int) *Params { return p.set("InputH", idx, v) }

// InputHExists reports whether the input height is present.
func (p *Params) InputHExists(idx int) bool { return p.exists("InputH", idx) }

// InputW returns the input width of the given model input.
func (p *Params) InputW(idx int) int { return p.intParam("InputW", idx) }

// SetInputW sets the input width of the given model input.
func (p *Params) SetInputW(idx, v int) *Params { return p.set("InputW", idx, v) }

// InputWExists reports whether the input width is present.
func (p *Params) InputWExists(idx int) bool { return p.exists("InputW", idx) }

// InputC returns the input color depth of the given model input.
func (p *Params) InputC(idx int) int { return p.intParam("InputC", idx) }

// SetInputC sets the input color depth of the given model input.
func (p *Params) SetInputC(idx, v int) *Params { return p.set("InputC", idx, v) }

// InputCExists reports whether the input color depth is present.
func (p *Params) InputCExists(idx int) bool { return p.exists("InputC", idx) }

// InputShape returns the full input tensor shape of the given model input.
func (p *Params) InputShape(idx int) []uint64 { return toUint64Slice(p.resolve("InputShape", idx)) }

// SetInputShape sets the full input tensor shape of the given model input.
func (p *Params) SetInputShape(idx int, v []uint64) *Params {
	shape := make([]any, len(v))
	for i, e := range v {
		shape[i] = float64(e)
	}
	return p.set("InputShape", idx, shape)
}

// InputShapeExists reports whether the input tensor shape is present.
func (p *Params) InputShapeExists(idx int) bool { return p.exists("InputShape", idx) }

// InputTensorLayout returns the image tensor layout the model expects.
func (p *Params) InputTensorLayout(idx int) string { return p.stringParam("InputTensorLayout", idx) }

// SetInputTensorLayout sets the image tensor layout the model expects.
func (p *Params) SetInputTensorLayout(idx int, v string) *Params {
	return p.set("InputTensorLayout", idx, v)
}

// InputTensorLayoutExists reports whether the tensor layout is present.
func (p *Params) InputTensorLayoutExists(idx int) bool { return p.exists("InputTensorLayout", idx) }

// InputColorSpace returns the image color space the model expects.
func (p *Params) InputColorSpace(idx int) string { return p.stringParam("InputColorSpace", idx) }

// SetInputColorSpace sets the image color space the model expects.
func (p *Params) SetInputColorSpace(idx int, v string) *Params {
	return p.set("InputColorSpace", idx, v)
}

// InputColorSpaceExists reports whether the color space is present.
func (p *Params) InputColorSpaceExists(idx int) bool { return p.exists("InputColorSpace", idx) }

// InputImgFmt returns the image format of the given model input.
func (p *Params) InputImgFmt(idx int) string { return p.stringParam("InputImgFmt", idx) }

// SetInputImgFmt sets the image format of the given model input.
func (p *Params) SetInputImgFmt(idx int, v string) *Params { return p.set("InputImgFmt", idx, v) }

// InputImgFmtExists reports whether the image format is present.
func (p *Params) InputImgFmtExists(idx int) bool { return p.exists("InputImgFmt", idx) }

// InputRawDataType returns the pixel data type for raw image inputs.
func (p *Params) InputRawDataType(idx int) string { return p.stringParam("InputRawDataType", idx) }

// SetInputRawDataType sets the pixel data type for raw image inputs.
func (p *Params) SetInputRawDataType(idx int, v string) *Params {
	return p.set("InputRawDataType", idx, v)
}

// InputRawDataTypeExists reports whether the raw pixel data type is present.
func (p *Params) InputRawDataTypeExists(idx int) bool { return p.exists("InputRawDataType", idx) }

// OutputPostprocessType returns the post-processing type of the model.
func (p *Params) OutputPostprocessType() string { return p.stringParam("OutputPostprocessType", 0) }

// SetOutputPostprocessType sets the post-processing type of the model.
func (p *Params) SetOutputPostprocessType(v string) *Params {
	return p.set("OutputPostprocessType", 0, v)
}

// OutputConfThreshold returns the confidence threshold applied to results.
func (p *Params) OutputConfThreshold() float64 { return p.floatParam("OutputConfThreshold", 0) }

// SetOutputConfThreshold sets the confidence threshold applied to results.
func (p *Params) SetOutputConfThreshold(v float64) *Params {
	return p.set("OutputConfThreshold", 0, v)
}

// OutputConfThresholdExists reports whether the confidence threshold is present.
func (p *Params) OutputConfThresholdExists() bool { return p.exists("OutputConfThreshold", 0) }

// OutputNMSThreshold returns the non-maximum-suppression threshold.
func (p *Params) OutputNMSThreshold() float64 { return p.floatParam("OutputNMSThreshold", 0) }

// SetOutputNMSThreshold sets the non-maximum-suppression threshold.
func (p *Params) SetOutputNMSThreshold(v float64) *Params {
	return p.set("OutputNMSThreshold", 0, v)
}

// MaxDetections returns the detection count limit per frame.
func (p *Params) MaxDetections() int { return p.intParam("MaxDetections", 0) }

// SetMaxDetections sets the detection count limit per frame.
func (p *Params) SetMaxDetections(v int) *Params { return p.set("MaxDetections", 0, v) }

// MaxDetectionsExists reports whether the detection limit is present.
func (p *Params) MaxDetectionsExists() bool { return p.exists("MaxDetections", 0) }

// MaxDetectionsPerClass returns the detection count limit per class.
// When absent it reads through to MaxDetections.
func (p *Params) MaxDetectionsPerClass() int { return p.intParam("MaxDetectionsPerClass", 0) }

// SetMaxDetectionsPerClass sets the detection count limit per class.
func (p *Params) SetMaxDetectionsPerClass(v int) *Params {
	return p.set("MaxDetectionsPerClass", 0, v)
}

// MaxDetectionsPerClassExists reports whether the per-class limit or its
// MaxDetections fallback is present.
func (p *Params) MaxDetectionsPerClassExists() bool { return p.exists("MaxDetectionsPerClass", 0) }

// OutputTopK returns the top-K result count limit. When absent it reads
// through to MaxDetections.
func (p *Params) OutputTopK() int { return p.intParam("OutputTopK", 0) }

// SetOutputTopK sets the top-K result count limit.
func (p *Params) SetOutputTopK(v int) *Params { return p.set("OutputTopK", 0, v) }

// OutputTopKExists reports whether the top-K limit or its fallback is present.
func (p *Params) OutputTopKExists() bool { return p.exists("OutputTopK", 0) }

// NumInputs returns the number of model inputs.
func (p *Params) NumInputs() int {
	return p.SectionSize(SectPreProcess.Label)
}

// InputShapeFor returns the input tensor shape for the given input. A
// present InputShape wins; otherwise the shape is assembled from the
// InputN/InputH/InputW/InputC parameters. When expectedSize is non-zero
// the result always has that many elements, and a present InputShape of a
// different length fails with BadParameter.
func (p *Params) InputShapeFor(idx, expectedSize int) ([]uint64, error) {
	if p.InputShapeExists(idx) && len(p.InputShape(idx)) > 0 {
		shape := p.InputShape(idx)
		if expectedSize != 0 && len(shape) != expectedSize {
			return nil, errors.Newf(errors.KindBadParameter,
				"the input shape parameter InputShape for input #%d must have %d elements, while it has %d",
				idx, expectedSize, len(shape))
		}
		return shape, nil
	}

	if expectedSize != 0 {
		shape := make([]uint64, expectedSize)
		for i := range shape {
			shape[i] = 1
		}
		if n := p.InputN(idx); n > 0 && expectedSize >= 1 {
			shape[0] = uint64(n)
		}
		if h := p.InputH(idx); h > 0 && expectedSize >= 2 {
			shape[1] = uint64(h)
		}
		if w := p.InputW(idx); w > 0 && expectedSize >= 3 {
			shape[2] = uint64(w)
		}
		if c := p.InputC(idx); c > 0 && expectedSize >= 4 {
			shape[3] = uint64(c)
		}
		return shape, nil
	}

	var shape []uint64
	if p.InputNExists(idx) && p.InputN(idx) > 0 {
		shape = append(shape, uint64(p.InputN(idx)))
	}
	if p.InputHExists(idx) && p.InputH(idx) > 0 {
		shape = append(shape, uint64(p.InputH(idx)))
	}
	if p.InputWExists(idx) && p.InputW(idx) > 0 {
		shape = append(shape, uint64(p.InputW(idx)))
	}
	if p.InputCExists(idx) && p.InputC(idx) > 0 {
		shape = append(shape, uint64(p.InputC(idx)))
	}
	return shape, nil
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func toUint64Slice(v any) []uint64 {
	switch s := v.(type) {
	case []uint64:
		return s
	case []any:
		out := make([]uint64, 0, len(s))
		for _, e := range s {
			out = append(out, uint64(toInt(e)))
		}
		return out
	default:
		return nil
	}
}
