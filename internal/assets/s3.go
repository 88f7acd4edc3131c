// Package assets hands out presigned S3 upload slots for donation photos and
// milestone certificates. The service never proxies the bytes.
package assets

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	ledger "foodlink/internal/ledger/service"
	milestone "foodlink/internal/milestone/service"
	"foodlink/pkg/domain"
	"foodlink/pkg/requestcontext"
)

const defaultTTL = 15 * time.Minute

type Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO or LocalStack
	// Static keys; empty means the default AWS credential chain.
	AccessKeyID     string
	SecretAccessKey string
	PresignTTL      time.Duration
}

type putPresigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Presigner struct {
	presign putPresigner
	bucket  string
	ttl     time.Duration
	logger  *slog.Logger
}

// New loads AWS configuration and builds a presigner for cfg.Bucket.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Presigner, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("assets bucket is required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newPresigner(s3.NewPresignClient(client), cfg, logger), nil
}

func newPresigner(p putPresigner, cfg Config, logger *slog.Logger) *Presigner {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Presigner{presign: p, bucket: cfg.Bucket, ttl: ttl, logger: logger}
}

var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// PresignImageUpload reserves images/{donor}/{uuid}{ext}.
func (p *Presigner) PresignImageUpload(ctx context.Context, donor domain.DonorID, contentType string) (*ledger.ImageUpload, error) {
	key := path.Join("images", donor.String(), uuid.NewString()+imageExt[contentType])
	url, expires, err := p.put(ctx, key, contentType)
	if err != nil {
		return nil, err
	}
	return &ledger.ImageUpload{Ref: p.ref(key), UploadURL: url, ExpiresAt: expires}, nil
}

// ReserveCertificate reserves certificates/{donor}/{month}-{milestone}.pdf.
// The key is deterministic so a retried issuance overwrites the same object.
func (p *Presigner) ReserveCertificate(ctx context.Context, donor domain.DonorID, month string, n int) (*milestone.Certificate, error) {
	key := path.Join("certificates", donor.String(), fmt.Sprintf("%s-%d.pdf", month, n))
	url, expires, err := p.put(ctx, key, "application/pdf")
	if err != nil {
		return nil, err
	}
	return &milestone.Certificate{
		Milestone: n,
		Month:     month,
		Ref:       p.ref(key),
		UploadURL: url,
		ExpiresAt: expires,
	}, nil
}

func (p *Presigner) put(ctx context.Context, key, contentType string) (string, time.Time, error) {
	req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		p.logger.ErrorContext(ctx, "presign failed", "key", key, "error", err)
		return "", time.Time{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, requestcontext.Now(ctx).Add(p.ttl), nil
}

func (p *Presigner) ref(key string) string {
	return "s3://" + p.bucket + "/" + key
}
