// Package ocr recognises text in images embedded in study materials, either
// locally through Tesseract or through AWS Textract.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/markdave123-py/studykb/internal/core"
)

// TesseractConfig configures the local OCR engine.
type TesseractConfig struct {
	// Languages are tesseract language packs, e.g. "eng", "chi_sim".
	Languages   []string
	PageSegMode gosseract.PageSegMode
	Contrast    float64
	Sharpen     float64
}

func DefaultTesseractConfig() TesseractConfig {
	return TesseractConfig{
		Languages:   []string{"eng", "chi_sim"},
		PageSegMode: gosseract.PSM_AUTO,
		Contrast:    20,
		Sharpen:     0.5,
	}
}

type Tesseract struct {
	cfg TesseractConfig
}

func NewTesseract(cfg TesseractConfig) *Tesseract {
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultTesseractConfig().Languages
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_AUTO
	}
	return &Tesseract{cfg: cfg}
}

// Recognize runs a fresh tesseract client per image; gosseract clients are
// not safe for concurrent use.
func (t *Tesseract) Recognize(ctx context.Context, data []byte, languageHints []string) (*core.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	prepared, err := encodePNG(t.preprocess(img))
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages(languageHints)...); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(t.cfg.PageSegMode); err != nil {
		return nil, fmt.Errorf("set page seg mode: %w", err)
	}
	if err := client.SetImageFromBytes(prepared); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	var confidence float64
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err == nil && len(boxes) > 0 {
		var sum float64
		for _, b := range boxes {
			sum += b.Confidence
		}
		confidence = sum / float64(len(boxes))
	}

	return &core.OCRResult{Text: strings.TrimSpace(text), Confidence: confidence}, nil
}

func (t *Tesseract) preprocess(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	if t.cfg.Contrast != 0 {
		out = imaging.AdjustContrast(out, t.cfg.Contrast)
	}
	if t.cfg.Sharpen > 0 {
		out = imaging.Sharpen(out, t.cfg.Sharpen)
	}
	return out
}

// languages narrows the configured packs to the hinted languages when any
// of them are installed, and otherwise uses every configured pack.
func (t *Tesseract) languages(hints []string) []string {
	var out []string
	for _, h := range hints {
		pack := TesseractLanguage(h)
		for _, l := range t.cfg.Languages {
			if l == pack && !contains(out, pack) {
				out = append(out, pack)
			}
		}
	}
	if len(out) == 0 {
		return t.cfg.Languages
	}
	return out
}

// TesseractLanguage maps a language hint to its tesseract pack name.
func TesseractLanguage(hint string) string {
	switch strings.ToLower(hint) {
	case "zh", "zh-cn", "chinese":
		return "chi_sim"
	case "en", "english":
		return "eng"
	default:
		return hint
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

var _ core.OCRProvider = (*Tesseract)(nil)
