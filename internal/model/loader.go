package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/food-detect/internal/httpc"
	"github.com/Brownie44l1/food-detect/internal/log"
)

const (
	DescriptorFile = "model.json"
	MetadataFile   = "metadata.json"
)

// Loader fetches a model from a base URL that serves model.json,
// metadata.json and the weights file model.json points at.
type Loader struct {
	BaseURL    string
	CacheDir   string
	Refresh    bool
	Client     *http.Client
	NewSession SessionFactory
}

func NewLoader(baseURL, cacheDir string, newSession SessionFactory) *Loader {
	return &Loader{
		BaseURL:    baseURL,
		CacheDir:   cacheDir,
		Client:     httpc.Client,
		NewSession: newSession,
	}
}

// Load downloads the model documents and weights and opens a session.
func (l *Loader) Load(ctx context.Context) (*Model, error) {
	base, err := url.Parse(l.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model base URL: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	var d Descriptor
	if err := l.fetchJSON(ctx, base.JoinPath(DescriptorFile), &d); err != nil {
		return nil, fmt.Errorf("failed to load descriptor: %w", err)
	}

	var meta Metadata
	if err := l.fetchJSON(ctx, base.JoinPath(MetadataFile), &meta); err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	if len(meta.Labels) == 0 {
		return nil, ErrNoLabels
	}
	if err := d.applyDefaults(meta); err != nil {
		return nil, fmt.Errorf("failed to validate descriptor: %w", err)
	}

	ref, err := url.Parse(d.Weights)
	if err != nil {
		return nil, fmt.Errorf("failed to parse weights location: %w", err)
	}
	weightsURL := base.ResolveReference(ref)

	weightsPath, err := l.cacheWeights(ctx, base, weightsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch weights: %w", err)
	}

	session, err := l.NewSession(weightsPath, d)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	log.Info("model loaded",
		"base_url", base.String(),
		"model_name", meta.ModelName,
		"classes", len(meta.Labels),
		"input_shape", d.InputShape,
		"layout", d.Layout())

	return newModel(session, d, meta), nil
}

func (l *Loader) fetchJSON(ctx context.Context, u *url.URL, v any) error {
	body, err := l.get(ctx, u)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", u, err)
	}
	return nil
}

func (l *Loader) get(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	client := l.Client
	if client == nil {
		client = httpc.Client
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: u.String(), StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// cacheWeights stores the weights under CacheDir/<model key>/<file> and
// reuses an existing non-empty copy unless Refresh is set.
func (l *Loader) cacheWeights(ctx context.Context, base, weightsURL *url.URL) (string, error) {
	dir := filepath.Join(l.CacheDir, cacheKey(base))
	name := path.Base(weightsURL.Path)
	if name == "." || name == "/" {
		name = "model.onnx"
	}
	dst := filepath.Join(dir, name)

	if !l.Refresh {
		if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
			log.Debug("using cached weights", "path", dst)
			return dst, nil
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	body, err := l.get(ctx, weightsURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}

	log.Info("downloaded weights", "url", weightsURL.String(), "path", dst, "bytes", n)
	return dst, nil
}

// cacheKey names the cache directory after the last path segment of the
// base URL, falling back to the host.
func cacheKey(base *url.URL) string {
	seg := path.Base(strings.TrimSuffix(base.Path, "/"))
	if seg == "." || seg == "/" || seg == "" {
		seg = base.Host
	}
	return strings.NewReplacer(":", "_", "/", "_").Replace(seg)
}
