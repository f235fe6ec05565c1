package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Session runs one forward pass of a loaded network.
type Session interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// SessionFactory builds a Session from a weights file on disk.
type SessionFactory func(weightsPath string, d Descriptor) (Session, error)

var (
	envOnce  sync.Once
	envErr   error
	envReady bool
)

// NewONNXSessionFactory returns a factory backed by ONNX Runtime. libPath may
// be empty to use the library's default shared object lookup.
func NewONNXSessionFactory(libPath string) SessionFactory {
	return func(weightsPath string, d Descriptor) (Session, error) {
		envOnce.Do(func() {
			if libPath != "" {
				ort.SetSharedLibraryPath(libPath)
			}
			if err := ort.InitializeEnvironment(); err != nil {
				envErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
				return
			}
			envReady = true
		})
		if envErr != nil {
			return nil, envErr
		}
		return newONNXSession(weightsPath, d)
	}
}

// DestroyEnvironment releases ONNX Runtime. Call it once, after every
// session has been closed.
func DestroyEnvironment() {
	if envReady {
		ort.DestroyEnvironment()
	}
}

type onnxSession struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newONNXSession(weightsPath string, d Descriptor) (*onnxSession, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(d.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(d.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(weightsPath,
		[]string{d.InputName}, []string{d.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Run copies input into the bound tensor and returns a copy of the output.
// Callers must serialise calls; the tensors are shared.
func (s *onnxSession) Run(input []float32) ([]float32, error) {
	copy(s.inputTensor.GetData(), input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := s.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (s *onnxSession) Close() error {
	var firstErr error
	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			firstErr = err
		}
	}
	if s.inputTensor != nil {
		if err := s.inputTensor.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.outputTensor != nil {
		if err := s.outputTensor.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
