package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/poundifdef/queuecheck/models"
)

type Config struct {
	Endpoint        string
	Region          string
	AccessKey       string
	SecretKey       string
	IncludeInFlight bool
}

// SQSBroker reads queue depth from AWS SQS, or from any endpoint that implements
// GetQueueUrl and GetQueueAttributes of the SQS JSON protocol.
type SQSBroker struct {
	cfg Config
}

type SQSSession struct {
	client          *sqs.Client
	includeInFlight bool
}

func NewSQSBroker(cfg Config) *SQSBroker {
	return &SQSBroker{cfg: cfg}
}

func (b *SQSBroker) Connect(ctx context.Context) (models.Session, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(b.cfg.Region),
		// Retrying belongs to the monitoring system's re-check schedule.
		config.WithRetryMaxAttempts(1),
	}
	if b.cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.cfg.AccessKey, b.cfg.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load SQS client config: %w", err)
	}

	if b.cfg.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(b.cfg.Endpoint)
	}

	return &SQSSession{
		client:          sqs.NewFromConfig(cfg),
		includeInFlight: b.cfg.IncludeInFlight,
	}, nil
}

func (s *SQSSession) Count(ctx context.Context, queue string) (int, error) {
	queueUrl, err := s.queueUrl(ctx, queue)
	if err != nil {
		return 0, err
	}

	attributes := []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages}
	if s.includeInFlight {
		attributes = append(attributes, types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)
	}

	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueUrl),
		AttributeNames: attributes,
	})
	if err != nil {
		return 0, mapError(queue, err)
	}

	total := 0
	for _, name := range attributes {
		raw, ok := out.Attributes[string(name)]
		if !ok {
			return 0, fmt.Errorf("attribute %s missing from response", name)
		}

		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("attribute %s: %w", name, err)
		}
		total += n
	}

	log.Debug().Str("queue_url", queueUrl).Int("count", total).Msg("Read SQS queue attributes")

	return total, nil
}

func (s *SQSSession) Close() error {
	return nil
}

// queueUrl accepts a queue name or a full queue URL.
func (s *SQSSession) queueUrl(ctx context.Context, queue string) (string, error) {
	if strings.HasPrefix(queue, "http://") || strings.HasPrefix(queue, "https://") {
		return queue, nil
	}

	out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queue),
	})
	if err != nil {
		return "", mapError(queue, err)
	}

	return aws.ToString(out.QueueUrl), nil
}

func mapError(queue string, err error) error {
	var notFound *types.QueueDoesNotExist
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", models.ErrQueueNotFound, queue)
	}
	return err
}
