package ocr

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
)

// TextractEngine implements Engine on Amazon Textract. Page keys refer to
// objects in the pipeline bucket.
type TextractEngine struct {
	client *textract.Client
	bucket string
	logger logger.Logger
}

func NewTextractEngine(ctx context.Context, c *cfg.OCRConfig, log logger.Logger) (*TextractEngine, error) {
	creds := credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &TextractEngine{
		client: textract.NewFromConfig(awsCfg),
		bucket: cfg.GetS3Config().BucketName,
		logger: log,
	}, nil
}

func (e *TextractEngine) DetectSync(ctx context.Context, pageKey string) ([]Line, error) {
	result, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{
			S3Object: &types.S3Object{
				Bucket: aws.String(e.bucket),
				Name:   aws.String(pageKey),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to detect document text for %s: %w", pageKey, err)
	}

	return linesFromBlocks(result.Blocks), nil
}

func (e *TextractEngine) SubmitAsync(ctx context.Context, pageKey string) (string, error) {
	result, err := e.client.StartDocumentTextDetection(ctx, &textract.StartDocumentTextDetectionInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(e.bucket),
				Name:   aws.String(pageKey),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to start text detection for %s: %w", pageKey, err)
	}

	e.logger.Info("Started Textract job",
		logger.String("page", pageKey),
		logger.String("job_id", *result.JobId),
	)

	return *result.JobId, nil
}

func (e *TextractEngine) PollAsync(ctx context.Context, handle string) (*PollResult, error) {
	result, err := e.client.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
		JobId: aws.String(handle),
	})
	if err != nil {
		var invalid *types.InvalidJobIdException
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("job %s: %w", handle, models.ErrInvalidJob)
		}
		return nil, fmt.Errorf("failed to poll job %s: %w", handle, err)
	}

	switch result.JobStatus {
	case types.JobStatusSucceeded:
		return &PollResult{
			Status: JobStatusSucceeded,
			Lines:  linesFromBlocks(result.Blocks),
		}, nil
	case types.JobStatusFailed:
		msg := "unknown error"
		if result.StatusMessage != nil {
			msg = *result.StatusMessage
		}
		return &PollResult{Status: JobStatusFailed, Error: msg}, nil
	default:
		return &PollResult{Status: JobStatusRunning}, nil
	}
}

func linesFromBlocks(blocks []types.Block) []Line {
	var lines []Line
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		line := Line{Text: *block.Text}
		if block.Geometry != nil && block.Geometry.BoundingBox != nil {
			bb := block.Geometry.BoundingBox
			line.Region = Region{
				Left:   float64(bb.Left),
				Top:    float64(bb.Top),
				Width:  float64(bb.Width),
				Height: float64(bb.Height),
			}
		}
		lines = append(lines, line)
	}
	return lines
}
