// Package location supplies a single current-position reading on demand.
// The device sensor is an external collaborator; only the narrow interface
// lives here.
package location

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/CvmiloM/TeLlevoAPP/internal/models"
)

type Provider interface {
	CurrentPosition(ctx context.Context) (models.Coord, error)
}

// Fixed always reports the same coordinate. Used in tests and local runs
// without a positioning sidecar.
type Fixed struct {
	Coord models.Coord
}

func (f Fixed) CurrentPosition(ctx context.Context) (models.Coord, error) {
	return f.Coord, nil
}

// HTTPProvider asks a positioning sidecar for the device's current
// coordinate. A timeout here degrades to a visible error, never a hang.
type HTTPProvider struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPProvider(endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProvider) CurrentPosition(ctx context.Context) (models.Coord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint, nil)
	if err != nil {
		return models.Coord{}, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return models.Coord{}, err
	}
	defer resp.Body.Close()
	var c models.Coord
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return models.Coord{}, err
	}
	if err := c.Validate(); err != nil {
		return models.Coord{}, err
	}
	return c, nil
}
