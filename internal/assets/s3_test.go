package assets

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodlink/pkg/domain"
	"foodlink/pkg/requestcontext"
)

var now = time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC)

func newTestPresigner(t *testing.T) *Presigner {
	t.Helper()
	p, err := New(context.Background(), Config{
		Bucket:          "foodlink-assets",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		PresignTTL:      10 * time.Minute,
	}, nil)
	require.NoError(t, err)
	return p
}

func TestPresignImageUpload(t *testing.T) {
	p := newTestPresigner(t)
	donor := domain.DonorID(uuid.New())
	ctx := requestcontext.WithTime(context.Background(), now)

	up, err := p.PresignImageUpload(ctx, donor, "image/png")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(up.Ref, "s3://foodlink-assets/images/"+donor.String()+"/"))
	assert.True(t, strings.HasSuffix(up.Ref, ".png"))
	assert.Equal(t, now.Add(10*time.Minute), up.ExpiresAt)

	u, err := url.Parse(up.UploadURL)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.True(t, strings.HasPrefix(u.Path, "/foodlink-assets/images/"))
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
}

func TestReserveCertificateIsDeterministic(t *testing.T) {
	p := newTestPresigner(t)
	donor := domain.DonorID(uuid.New())

	a, err := p.ReserveCertificate(context.Background(), donor, "2024-03", 10)
	require.NoError(t, err)
	b, err := p.ReserveCertificate(context.Background(), donor, "2024-03", 10)
	require.NoError(t, err)

	assert.Equal(t, a.Ref, b.Ref)
	assert.Equal(t, "s3://foodlink-assets/certificates/"+donor.String()+"/2024-03-10.pdf", a.Ref)
	assert.Equal(t, 10, a.Milestone)
}

type failingPresigner struct{}

func (failingPresigner) PresignPutObject(context.Context, *s3.PutObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return nil, errors.New("signer: no credentials")
}

func TestPresignFailure(t *testing.T) {
	p := newPresigner(failingPresigner{}, Config{Bucket: "b"}, nil)
	_, err := p.ReserveCertificate(context.Background(), domain.DonorID(uuid.New()), "2024-03", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
	assert.Equal(t, defaultTTL, p.ttl)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"}, nil)
	require.Error(t, err)
}
