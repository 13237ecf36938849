// Package archive copies stored daily reports to S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/rs/zerolog"
)

// PutObjectAPI is the part of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds S3 archive settings.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint selects an S3-compatible service (MinIO, R2) instead of AWS.
	Endpoint string
	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("archive: bucket is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("archive: access key id and secret access key must be set together")
	}
	return nil
}

// S3Archiver writes each report as JSON to <prefix>/<org_id>/<date>.json.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger zerolog.Logger
}

// New builds an S3 client from cfg and returns an archiver using it.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*S3Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
			// Most S3-compatible stores reject the default trailing checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, clientOpts...), cfg, logger), nil
}

// NewWithClient returns an archiver writing through client.
func NewWithClient(client PutObjectAPI, cfg Config, logger zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With().Str("component", "report_archive").Logger(),
	}
}

// ObjectKey returns the object key for one report.
func ObjectKey(prefix, orgID, reportDate string) string {
	return path.Join(strings.Trim(prefix, "/"), orgID, reportDate+".json")
}

// Archive uploads report. Existing objects for the same day are overwritten.
func (a *S3Archiver) Archive(ctx context.Context, report *models.DailyReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	key := ObjectKey(a.prefix, report.OrgID, report.ReportDate)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"org-id":      report.OrgID,
			"report-date": report.ReportDate,
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}

	a.logger.Debug().
		Str("org_id", report.OrgID).
		Str("report_date", report.ReportDate).
		Str("key", key).
		Msg("report archived")
	return nil
}
