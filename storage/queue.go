package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// EnrichmentQueue hands upserted products to the external enrichment
// consumer.
type EnrichmentQueue interface {
	Publish(ctx context.Context, productID int64, source string) error
}

type sqsSendAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSQueue struct {
	client   sqsSendAPI
	queueURL string
}

func NewSQSQueue(awsCfg aws.Config, queueURL string) *SQSQueue {
	return &SQSQueue{client: sqs.NewFromConfig(awsCfg), queueURL: queueURL}
}

type enrichmentMessage struct {
	ProductID int64  `json:"product_id"`
	Source    string `json:"source"`
}

func (q *SQSQueue) Publish(ctx context.Context, productID int64, source string) error {
	body, err := json.Marshal(enrichmentMessage{ProductID: productID, Source: source})
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", q.queueURL, err)
	}
	return nil
}
