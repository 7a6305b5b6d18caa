//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3backend "github.com/souravgh/unfs2go/pkg/backend/s3"
)

const defaultLocalstackEndpoint = "http://localhost:4566"

// localstack owns the buckets created for one S3 test run.
type localstack struct {
	t        *testing.T
	endpoint string
	client   *s3.Client
	buckets  []string
}

func localstackEndpoint() string {
	if ep := os.Getenv("LOCALSTACK_ENDPOINT"); ep != "" {
		return ep
	}
	return defaultLocalstackEndpoint
}

// dialLocalstack returns nil when no Localstack answers at the endpoint.
func dialLocalstack(t *testing.T) *localstack {
	t.Helper()

	endpoint := localstackEndpoint()
	client, err := s3backend.NewClient(context.Background(), s3backend.Config{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		MaxRetries:      1,
	})
	if err != nil {
		t.Fatalf("Failed to create S3 client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		return nil
	}

	return &localstack{t: t, endpoint: endpoint, client: client}
}

// prepare creates a fresh bucket for config and points it at Localstack.
func (ls *localstack) prepare(config *TestConfig) {
	ls.t.Helper()

	bucket := fmt.Sprintf("unfsd-e2e-%s-%d", config.Name, time.Now().UnixNano()%1e6)
	if _, err := ls.client.CreateBucket(context.Background(), &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}); err != nil {
		ls.t.Fatalf("Failed to create bucket %s: %v", bucket, err)
	}
	ls.buckets = append(ls.buckets, bucket)

	config.s3Client = ls.client
	config.s3Endpoint = ls.endpoint
	config.s3Bucket = bucket
}

// drop empties and deletes every bucket prepare created.
func (ls *localstack) drop() {
	ctx := context.Background()

	for _, bucket := range ls.buckets {
		pages := s3.NewListObjectsV2Paginator(ls.client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
		for pages.HasMorePages() {
			page, err := pages.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = ls.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			}
		}
		_, _ = ls.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	}
}
