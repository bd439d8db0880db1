package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/campusware/rollcall/internal/imaging"
	"github.com/campusware/rollcall/internal/vector"
)

const (
	defaultCascadeMinSize = 70

	// cascadeCropSize is the square edge the face crop is resized to before
	// flattening into the fallback embedding.
	cascadeCropSize = 64
	cascadeDim      = cascadeCropSize * cascadeCropSize

	// cascadeMinQuality drops weak detection clusters. The cascade's
	// quality value is not a calibrated confidence, so kept faces are
	// reported with a flat score of 1.
	cascadeMinQuality = 5.0

	cascadeShiftFactor  = 0.1
	cascadeScaleFactor  = 1.1
	cascadeIoUThreshold = 0.2
)

// cascadeEngine is the degraded in-process fallback: Viola-Jones detection
// with a raw grayscale crop as the feature vector. It carries no landmarks,
// so liveness checks report unchecked on this engine. Recognition accuracy
// is far below the remote model; it exists so a kiosk without its sidecar
// still takes attendance instead of going dark.
type cascadeEngine struct {
	classifier *pigo.Pigo
	minSize    int
}

func newCascadeEngine(path string, minSize int) (*cascadeEngine, error) {
	if minSize <= 0 {
		minSize = defaultCascadeMinSize
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cascade file: %w", err)
	}

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpacking cascade file: %w", err)
	}

	return &cascadeEngine{classifier: classifier, minSize: minSize}, nil
}

func (e *cascadeEngine) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if img == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	cols, rows := bounds.Dx(), bounds.Dy()
	if cols < e.minSize || rows < e.minSize {
		return nil, nil
	}

	maxSize := cols
	if rows < maxSize {
		maxSize = rows
	}

	params := pigo.CascadeParams{
		MinSize:     e.minSize,
		MaxSize:     maxSize,
		ShiftFactor: cascadeShiftFactor,
		ScaleFactor: cascadeScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(img),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := e.classifier.RunCascade(params, 0.0)
	dets = e.classifier.ClusterDetections(dets, cascadeIoUThreshold)

	var faces []Face
	for _, d := range dets {
		if d.Q < cascadeMinQuality {
			continue
		}

		half := d.Scale / 2
		box := Box{
			X1: float32(d.Col - half),
			Y1: float32(d.Row - half),
			X2: float32(d.Col + half),
			Y2: float32(d.Row + half),
		}

		emb := e.embed(img, box)
		if emb == nil {
			continue
		}
		faces = append(faces, Face{Embedding: emb, Box: box, Score: 1.0})
	}
	return faces, nil
}

// embed flattens the grayscale face crop into a unit-length vector. Crude,
// but stable for the same subject under kiosk lighting.
func (e *cascadeEngine) embed(img image.Image, box Box) []float32 {
	rect := box.Rect().Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}

	crop := imaging.Crop(img, rect)
	gray := imaging.Grayscale(imaging.Resize(crop, cascadeCropSize, cascadeCropSize))

	vec := make([]float32, 0, cascadeDim)
	for _, p := range gray.Pix {
		vec = append(vec, float32(p)/255)
	}
	vector.NormalizeInPlace(vec)
	return vec
}

func (e *cascadeEngine) Mode() string {
	return ModeCascade
}

func (e *cascadeEngine) Dim() int {
	return cascadeDim
}

func (e *cascadeEngine) Close() error {
	return nil
}
