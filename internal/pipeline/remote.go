package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/campusware/rollcall/internal/imaging"
)

const (
	defaultEngineTimeout = 30 * time.Second

	healthPath  = "/health"
	analyzePath = "/v1/analyze"
)

// remoteEngine talks to a local face inference sidecar over HTTP. The
// sidecar owns the detection and embedding models; this client only moves
// JPEG bytes in and face records out.
type remoteEngine struct {
	baseURL string
	client  *http.Client
	model   string
	dim     int
}

type engineHealth struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Dim    int    `json:"dim"`
}

type analyzeRequest struct {
	Image string `json:"image"`
}

type wireFace struct {
	Embedding []float32    `json:"embedding"`
	Box       [4]float32   `json:"box"`
	Score     float32      `json:"score"`
	Landmarks [][2]float32 `json:"landmarks,omitempty"`
}

type analyzeResponse struct {
	Faces []wireFace `json:"faces"`
}

// newRemoteEngine probes the sidecar's health endpoint and records the
// embedding dimension it serves. A sidecar that cannot state its dimension
// is not usable.
func newRemoteEngine(ctx context.Context, baseURL string, timeout time.Duration) (*remoteEngine, error) {
	if timeout <= 0 {
		timeout = defaultEngineTimeout
	}

	e := &remoteEngine{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}

	health, err := e.health(ctx)
	if err != nil {
		return nil, fmt.Errorf("probing face engine: %w", err)
	}
	if health.Status != "ok" {
		return nil, fmt.Errorf("face engine reports status %q", health.Status)
	}
	if health.Dim <= 0 {
		return nil, fmt.Errorf("face engine reports invalid embedding dimension %d", health.Dim)
	}

	e.model = health.Model
	e.dim = health.Dim
	return e, nil
}

func (e *remoteEngine) health(ctx context.Context) (*engineHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+healthPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating health request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var health engineHealth
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("parsing health response: %w", err)
	}
	return &health, nil
}

func (e *remoteEngine) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if img == nil {
		return nil, nil
	}

	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	reqBody := analyzeRequest{Image: base64.StdEncoding.EncodeToString(data)}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+analyzePath, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading analyze response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyze endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var analyzed analyzeResponse
	if err := json.Unmarshal(body, &analyzed); err != nil {
		return nil, fmt.Errorf("parsing analyze response: %w", err)
	}

	faces := make([]Face, 0, len(analyzed.Faces))
	for _, wf := range analyzed.Faces {
		face := Face{
			Embedding: wf.Embedding,
			Box:       Box{X1: wf.Box[0], Y1: wf.Box[1], X2: wf.Box[2], Y2: wf.Box[3]},
			Score:     wf.Score,
		}
		for _, lm := range wf.Landmarks {
			face.Landmarks = append(face.Landmarks, Point{X: lm[0], Y: lm[1]})
		}
		faces = append(faces, face)
	}
	return faces, nil
}

func (e *remoteEngine) Mode() string {
	return ModeRemote
}

func (e *remoteEngine) Dim() int {
	return e.dim
}

func (e *remoteEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
