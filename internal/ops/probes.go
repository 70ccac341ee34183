package ops

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Pinger matches pgxpool.Pool's Ping method.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseProbe reports readiness of the database connection pool.
type DatabaseProbe struct {
	pool Pinger
}

// NewDatabaseProbe creates a database readiness probe.
func NewDatabaseProbe(pool Pinger) *DatabaseProbe {
	return &DatabaseProbe{pool: pool}
}

func (p *DatabaseProbe) Name() string { return "database" }

func (p *DatabaseProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// QueueAttributesAPI abstracts the SQS GetQueueAttributes operation for
// testability.
type QueueAttributesAPI interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// QueueProbe reports reachability of the jobs queue.
type QueueProbe struct {
	client   QueueAttributesAPI
	queueURL string
}

// NewQueueProbe creates a queue readiness probe.
func NewQueueProbe(client QueueAttributesAPI, queueURL string) *QueueProbe {
	return &QueueProbe{client: client, queueURL: queueURL}
}

func (p *QueueProbe) Name() string { return "queue" }

func (p *QueueProbe) Check(ctx context.Context) error {
	_, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(p.queueURL),
		AttributeNames: []sqsTypes.QueueAttributeName{sqsTypes.QueueAttributeNameQueueArn},
	})
	return err
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
