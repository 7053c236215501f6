package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/markdave123-py/studykb/internal/core"
)

type textractAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// Textract recognises text with AWS Textract. Language hints are ignored;
// the service detects the script itself.
type Textract struct {
	client textractAPI
}

func NewTextract(awsCfg aws.Config) *Textract {
	return &Textract{client: textract.NewFromConfig(awsCfg)}
}

func (t *Textract) Recognize(ctx context.Context, data []byte, _ []string) (*core.OCRResult, error) {
	out, err := t.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		return nil, fmt.Errorf("textract detect: %w", err)
	}
	return linesResult(out.Blocks), nil
}

func linesResult(blocks []types.Block) *core.OCRResult {
	var (
		lines []string
		sum   float64
	)
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeLine || b.Text == nil {
			continue
		}
		lines = append(lines, *b.Text)
		if b.Confidence != nil {
			sum += float64(*b.Confidence)
		}
	}
	res := &core.OCRResult{Text: strings.Join(lines, "\n")}
	if len(lines) > 0 {
		res.Confidence = sum / float64(len(lines))
	}
	return res
}

var _ core.OCRProvider = (*Textract)(nil)
