package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/gophsync/internal/common"
)

// Presigner hands out time limited URLs a client can PUT an object to.
type Presigner interface {
	PresignPut(ctx context.Context, name string, ttl time.Duration) (string, error)
}

// PresignAPI is the part of *s3.PresignClient used by S3Store.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// WithPresigner sets the client used by PresignPut.
func (s *S3Store) WithPresigner(p PresignAPI) *S3Store {
	s.presign = p
	return s
}

func (s *S3Store) PresignPut(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if s.presign == nil {
		return "", common.ErrPresignUnsupported
	}
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", name, err)
	}
	return req.URL, nil
}

func (p *prefixed) PresignPut(ctx context.Context, name string, ttl time.Duration) (string, error) {
	ps, ok := p.store.(Presigner)
	if !ok {
		return "", common.ErrPresignUnsupported
	}
	return ps.PresignPut(ctx, p.folder+name, ttl)
}
