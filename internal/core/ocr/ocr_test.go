package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTextract struct {
	out *textract.DetectDocumentTextOutput
	err error
}

func (s stubTextract) DetectDocumentText(context.Context, *textract.DetectDocumentTextInput, ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	return s.out, s.err
}

func TestTextract_JoinsLinesAndAveragesConfidence(t *testing.T) {
	tx := &Textract{client: stubTextract{out: &textract.DetectDocumentTextOutput{
		Blocks: []types.Block{
			{BlockType: types.BlockTypePage},
			{BlockType: types.BlockTypeLine, Text: aws.String("F = ma"), Confidence: aws.Float32(90)},
			{BlockType: types.BlockTypeWord, Text: aws.String("F"), Confidence: aws.Float32(10)},
			{BlockType: types.BlockTypeLine, Text: aws.String("a = F/m"), Confidence: aws.Float32(80)},
		},
	}}}

	res, err := tx.Recognize(context.Background(), []byte("img"), nil)
	require.NoError(t, err)
	assert.Equal(t, "F = ma\na = F/m", res.Text)
	assert.InDelta(t, 85.0, res.Confidence, 0.001)
}

func TestTextract_Error(t *testing.T) {
	tx := &Textract{client: stubTextract{err: errors.New("throttled")}}
	_, err := tx.Recognize(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "throttled")
}

func TestTesseractLanguages(t *testing.T) {
	ts := NewTesseract(TesseractConfig{Languages: []string{"eng", "chi_sim"}})

	assert.Equal(t, []string{"chi_sim"}, ts.languages([]string{"zh"}))
	assert.Equal(t, []string{"eng", "chi_sim"}, ts.languages([]string{"en", "zh", "en"}))
	assert.Equal(t, []string{"eng", "chi_sim"}, ts.languages([]string{"fr"}))
	assert.Equal(t, []string{"eng", "chi_sim"}, ts.languages(nil))
}

func TestTesseract_RejectsUndecodableImage(t *testing.T) {
	ts := NewTesseract(DefaultTesseractConfig())
	_, err := ts.Recognize(context.Background(), []byte("not an image"), nil)
	assert.ErrorContains(t, err, "decode image")
}
