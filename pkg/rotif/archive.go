package rotif

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// S3ArchiveSink writes trimmed DLQ batches to S3 as newline-delimited JSON,
// one object per batch, keyed by timestamp so archived entries remain
// addressable without a secondary index.
type S3ArchiveSink struct {
	client     *s3.Client
	bucket     string
	keyPrefix  string
	logger     *logrus.Logger
}

// NewS3ArchiveSink builds an S3-backed archive sink. endpoint, when set,
// points at a custom S3-compatible service (MinIO, LocalStack) instead of
// AWS; pathStyle is required for most such deployments.
func NewS3ArchiveSink(ctx context.Context, bucket, region, keyPrefix, endpoint, accessKeyID, secretAccessKey string, pathStyle bool, logger *logrus.Logger) (*S3ArchiveSink, error) {
	var awsCfg aws.Config
	var err error

	if accessKeyID != "" && secretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for DLQ archive sink: %w", err)
	}
	if endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
	})

	return &S3ArchiveSink{client: client, bucket: bucket, keyPrefix: keyPrefix, logger: logger}, nil
}

// Name implements ArchiveSink.
func (s *S3ArchiveSink) Name() string { return "s3" }

// Archive implements ArchiveSink.
func (s *S3ArchiveSink) Archive(ctx context.Context, entries []DLQMessage) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(archiveRecord{
			ID: e.ID, Channel: e.Channel, Payload: string(e.Payload),
			Error: e.Error, Timestamp: e.Timestamp, Attempt: e.Attempt,
		}); err != nil {
			return fmt.Errorf("failed to encode DLQ archive batch: %w", err)
		}
	}

	key := fmt.Sprintf("%s/%s/%d.ndjson", s.keyPrefix, time.Now().UTC().Format("2006-01-02"), time.Now().UnixNano())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload DLQ archive batch to s3://%s/%s: %w", s.bucket, key, err)
	}

	s.logger.WithFields(logrus.Fields{"bucket": s.bucket, "key": key, "count": len(entries)}).
		Debug("archived DLQ batch to S3")
	return nil
}

type archiveRecord struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Payload   string `json:"payload"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Attempt   int    `json:"attempt"`
}

// ClickHouseArchiveSink inserts trimmed DLQ batches into a ClickHouse table
// for long-term analytical queries over failure history.
type ClickHouseArchiveSink struct {
	conn   clickhouse.Conn
	table  string
	logger *logrus.Logger
}

// NewClickHouseArchiveSink opens a native-protocol ClickHouse connection
// dedicated to DLQ archival.
func NewClickHouseArchiveSink(addr, database, user, password, table string, dialTimeout time.Duration, logger *logrus.Logger) (*ClickHouseArchiveSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection for DLQ archive sink: %w", err)
	}
	return &ClickHouseArchiveSink{conn: conn, table: table, logger: logger}, nil
}

// Name implements ArchiveSink.
func (c *ClickHouseArchiveSink) Name() string { return "clickhouse" }

// Archive implements ArchiveSink.
func (c *ClickHouseArchiveSink) Archive(ctx context.Context, entries []DLQMessage) error {
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (id, channel, payload, error, timestamp, attempt)", c.table))
	if err != nil {
		return fmt.Errorf("failed to prepare ClickHouse DLQ archive batch: %w", err)
	}

	for _, e := range entries {
		if err := batch.Append(e.ID, e.Channel, string(e.Payload), e.Error, time.UnixMilli(e.Timestamp), uint32(e.Attempt)); err != nil {
			return fmt.Errorf("failed to append DLQ entry to ClickHouse batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send DLQ archive batch to ClickHouse: %w", err)
	}

	c.logger.WithFields(logrus.Fields{"table": c.table, "count": len(entries)}).
		Debug("archived DLQ batch to ClickHouse")
	return nil
}
