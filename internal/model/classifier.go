package model

import (
	"context"
	"image"
	"sort"
	"sync"

	"github.com/Brownie44l1/food-detect/internal/log"
)

// ModelLoader produces a ready model. *Loader is the production implementation.
type ModelLoader interface {
	Load(ctx context.Context) (*Model, error)
}

// Classifier owns the model handle and loads it on first use. Once loaded the
// model stays loaded; a failed load leaves it unloaded so the next call tries
// again. After Close every call fails with ErrClosed.
type Classifier struct {
	loader ModelLoader

	loadMu sync.Mutex
	mu     sync.RWMutex
	model  *Model
	closed bool
}

func NewClassifier(loader ModelLoader) *Classifier {
	return &Classifier{loader: loader}
}

// Initialize loads the model if it is not loaded yet. Concurrent callers
// wait for a single load.
func (c *Classifier) Initialize(ctx context.Context) error {
	_, err := c.ensureModel(ctx)
	return err
}

func (c *Classifier) Loaded() bool {
	return c.current() != nil
}

// TotalClasses returns the loaded model's class count, or 0 before loading.
func (c *Classifier) TotalClasses() int {
	m := c.current()
	if m == nil {
		return 0
	}
	return m.TotalClasses()
}

// Predict classifies img and returns one prediction per class, in label order.
func (c *Classifier) Predict(ctx context.Context, img image.Image) ([]Prediction, error) {
	m, err := c.ensureModel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores, err := m.Run(Preprocess(img, m.Descriptor))
	if err != nil {
		return nil, err
	}
	return m.Predictions(scores)
}

// PredictTopK is Predict sorted by descending score and cut to k entries.
// k <= 0 keeps every class.
func (c *Classifier) PredictTopK(ctx context.Context, img image.Image, k int) ([]Prediction, error) {
	preds, err := c.Predict(ctx, img)
	if err != nil {
		return nil, err
	}
	return TopK(preds, k), nil
}

// PredictTensor runs an already preprocessed input tensor.
func (c *Classifier) PredictTensor(ctx context.Context, input []float32) ([]Prediction, error) {
	m, err := c.ensureModel(ctx)
	if err != nil {
		return nil, err
	}

	scores, err := m.Run(input)
	if err != nil {
		return nil, err
	}
	return m.Predictions(scores)
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	m := c.model
	c.model = nil
	c.closed = true
	c.mu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close()
}

func (c *Classifier) current() *Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *Classifier) state() (*Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.model, nil
}

// ensureModel returns the loaded model, loading it first if needed. Loads are
// serialised by loadMu so readers of the current model never wait on a download.
func (c *Classifier) ensureModel(ctx context.Context) (*Model, error) {
	if m, err := c.state(); m != nil || err != nil {
		return m, err
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if m, err := c.state(); m != nil || err != nil {
		return m, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Info("loading model")
	m, err := c.loader.Load(ctx)
	if err != nil {
		log.Error("model load failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		m.Close()
		return nil, ErrClosed
	}
	c.model = m
	return m, nil
}

// TopK returns a copy of preds sorted by descending score, truncated to k.
func TopK(preds []Prediction, k int) []Prediction {
	sorted := make([]Prediction, len(preds))
	copy(sorted, preds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if k > 0 && k < len(sorted) {
		sorted = sorted[:k]
	}
	return sorted
}
