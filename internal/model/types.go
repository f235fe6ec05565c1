package model

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

const (
	FormatONNX = "onnx"

	// NormalizeSigned maps pixel channels to [-1, 1].
	NormalizeSigned = "signed"
	// NormalizeUnit maps pixel channels to [0, 1].
	NormalizeUnit = "unit"

	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

// Descriptor is the model.json document served next to the weights.
type Descriptor struct {
	Format      string  `json:"format"`
	Weights     string  `json:"weights"`
	InputName   string  `json:"inputName"`
	OutputName  string  `json:"outputName"`
	InputShape  []int64 `json:"inputShape"`
	OutputShape []int64 `json:"outputShape"`
	Normalize   string  `json:"normalize"`
}

// Metadata is the metadata.json document exported by Teachable Machine.
type Metadata struct {
	TFJSVersion    string         `json:"tfjsVersion"`
	TMVersion      string         `json:"tmVersion"`
	PackageVersion string         `json:"packageVersion"`
	PackageName    string         `json:"packageName"`
	TimeStamp      string         `json:"timeStamp"`
	UserMetadata   map[string]any `json:"userMetadata"`
	ModelName      string         `json:"modelName"`
	Labels         []string       `json:"labels"`
	ImageSize      int            `json:"imageSize"`
}

// Prediction is one class score. Probability is fixed to two decimals.
type Prediction struct {
	ClassName   string  `json:"className"`
	Probability string  `json:"probability"`
	Score       float32 `json:"-"`
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	RequestID   string       `json:"request_id,omitempty"`
	Class       string       `json:"class"`
	Confidence  float32      `json:"confidence"`
	Predictions []Prediction `json:"predictions"`
}

// NewPredictionResponse picks the highest scoring prediction as the class.
func NewPredictionResponse(requestID string, preds []Prediction) *PredictionResponse {
	resp := &PredictionResponse{RequestID: requestID, Predictions: preds}
	for i, p := range preds {
		if i == 0 || p.Score > resp.Confidence {
			resp.Class = p.ClassName
			resp.Confidence = p.Score
		}
	}
	return resp
}

// FormatProbability renders a score with exactly two decimals. Ties round
// away from zero, computed on the exact binary value, so 0.125 is "0.13".
func FormatProbability(p float32) string {
	v := float64(p)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}

	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	x := new(big.Float).SetPrec(256).SetFloat64(v)
	x.Mul(x, big.NewFloat(100))
	x.Add(x, big.NewFloat(0.5))
	n, _ := x.Int(nil)

	whole, frac := new(big.Int).QuoRem(n, big.NewInt(100), new(big.Int))
	return fmt.Sprintf("%s%s.%02d", sign, whole.String(), frac.Int64())
}

// applyDefaults fills in optional descriptor fields and checks the rest
// against the label metadata.
func (d *Descriptor) applyDefaults(meta Metadata) error {
	if d.Format == "" {
		d.Format = FormatONNX
	}
	if !strings.EqualFold(d.Format, FormatONNX) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, d.Format)
	}
	if d.Weights == "" {
		d.Weights = "model.onnx"
	}
	if d.InputName == "" {
		d.InputName = "input"
	}
	if d.OutputName == "" {
		d.OutputName = "output"
	}
	if d.Normalize == "" {
		d.Normalize = NormalizeSigned
	}
	if d.Normalize != NormalizeSigned && d.Normalize != NormalizeUnit {
		return fmt.Errorf("unknown normalization %q", d.Normalize)
	}

	if len(d.InputShape) == 0 {
		if meta.ImageSize <= 0 {
			return fmt.Errorf("%w: no input shape and no image size", ErrBadShape)
		}
		size := int64(meta.ImageSize)
		d.InputShape = []int64{1, size, size, 3}
	}
	if len(d.InputShape) != 4 || d.InputShape[0] != 1 {
		return fmt.Errorf("%w: input shape %v", ErrBadShape, d.InputShape)
	}
	if d.InputShape[1] != 3 && d.InputShape[3] != 3 {
		return fmt.Errorf("%w: input shape %v has no 3-channel axis", ErrBadShape, d.InputShape)
	}
	for _, dim := range d.InputShape {
		if dim <= 0 {
			return fmt.Errorf("%w: input shape %v", ErrBadShape, d.InputShape)
		}
	}

	if len(d.OutputShape) == 0 {
		d.OutputShape = []int64{1, int64(len(meta.Labels))}
	}
	if shapeSize(d.OutputShape) < len(meta.Labels) {
		return fmt.Errorf("%w: output shape %v smaller than %d labels", ErrBadShape, d.OutputShape, len(meta.Labels))
	}
	return nil
}

// Layout reports whether the input tensor is channels-first or channels-last.
func (d Descriptor) Layout() string {
	if d.InputShape[1] == 3 && d.InputShape[3] != 3 {
		return LayoutNCHW
	}
	return LayoutNHWC
}

// InputSize returns the spatial width and height of the input tensor.
func (d Descriptor) InputSize() (width, height int) {
	if d.Layout() == LayoutNCHW {
		return int(d.InputShape[3]), int(d.InputShape[2])
	}
	return int(d.InputShape[2]), int(d.InputShape[1])
}

// InputLen is the number of float32 values the input tensor holds.
func (d Descriptor) InputLen() int {
	return shapeSize(d.InputShape)
}

func shapeSize(shape []int64) int {
	n := 1
	for _, dim := range shape {
		n *= int(dim)
	}
	return n
}
