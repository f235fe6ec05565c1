package model

import (
	"fmt"
	"sync"
)

// Model is a loaded network together with the documents that describe it.
type Model struct {
	Descriptor Descriptor
	Metadata   Metadata

	mu      sync.Mutex
	session Session
}

func newModel(session Session, d Descriptor, meta Metadata) *Model {
	return &Model{Descriptor: d, Metadata: meta, session: session}
}

// TotalClasses is the number of labels the model declares.
func (m *Model) TotalClasses() int {
	return len(m.Metadata.Labels)
}

// Run executes one forward pass. Calls are serialised.
func (m *Model) Run(input []float32) ([]float32, error) {
	if want := m.Descriptor.InputLen(); len(input) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInputSize, want, len(input))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, ErrClosed
	}
	return m.session.Run(input)
}

// Predictions maps raw scores onto the label list, in label order.
func (m *Model) Predictions(scores []float32) ([]Prediction, error) {
	n := m.TotalClasses()
	if len(scores) < n {
		return nil, fmt.Errorf("%w: %d scores for %d classes", ErrOutputMismatch, len(scores), n)
	}

	preds := make([]Prediction, n)
	for i := 0; i < n; i++ {
		preds[i] = Prediction{
			ClassName:   m.Metadata.Labels[i],
			Probability: FormatProbability(scores[i]),
			Score:       scores[i],
		}
	}
	return preds, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}
