package source

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"lakerun/internal/domain"
)

// s3API is the subset of the S3 client the landing zone uses.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3LandingZone reads an S3 bucket prefix as a landing zone. Object keys
// under the prefix name the files; the prefix is stripped from reported names.
type S3LandingZone struct {
	name   string
	client s3API
	bucket string
	prefix string
	format string
}

// S3Credentials configures static-credential access to an S3-compatible endpoint.
type S3Credentials struct {
	KeyID    string
	Secret   string
	Endpoint string // optional, for S3-compatible object stores
	Region   string
}

// NewS3Client builds an S3 client with path-style addressing, matching
// S3-compatible object stores.
func NewS3Client(creds S3Credentials) *s3.Client {
	opts := s3.Options{
		Region:       creds.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(creds.KeyID, creds.Secret, ""),
		UsePathStyle: true,
	}
	if creds.Endpoint != "" {
		opts.BaseEndpoint = aws.String("https://" + creds.Endpoint)
	}
	return s3.New(opts)
}

// NewS3LandingZone creates a landing zone over bucket/prefix.
func NewS3LandingZone(name string, client s3API, bucket, prefix, format string) *S3LandingZone {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3LandingZone{name: name, client: client, bucket: bucket, prefix: prefix, format: format}
}

func (z *S3LandingZone) Name() string { return z.name }

// List returns the object names under the prefix, sorted ascending.
func (z *S3LandingZone) List(ctx context.Context) ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := z.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(z.bucket),
			Prefix:            aws.String(z.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &domain.UpstreamUnavailableError{Upstream: z.name, Cause: err}
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, z.prefix)
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			names = append(names, name)
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(names)
	return names, nil
}

// Read fetches and decodes one object.
func (z *S3LandingZone) Read(ctx context.Context, file string) ([]domain.Row, error) {
	out, err := z.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(z.bucket),
		Key:    aws.String(z.prefix + file),
	})
	if err != nil {
		return nil, &domain.UpstreamUnavailableError{Upstream: z.name, Cause: err}
	}
	defer out.Body.Close() //nolint:errcheck

	rows, err := decodeRecords(out.Body, z.format)
	if err != nil {
		return nil, domain.ErrValidation("landing zone %q: decode %s: %v", z.name, file, err)
	}
	return rows, nil
}

var _ LandingZone = (*S3LandingZone)(nil)

// BuildLandingZone constructs the landing zone declared by spec.
func BuildLandingZone(spec domain.LandingZoneSpec, creds S3Credentials) (LandingZone, error) {
	switch spec.Type {
	case "dir":
		return NewDirLandingZone(spec.Name, spec.Path, spec.Format), nil
	case "s3":
		if spec.Region != "" {
			creds.Region = spec.Region
		}
		return NewS3LandingZone(spec.Name, NewS3Client(creds), spec.Bucket, spec.Path, spec.Format), nil
	default:
		return nil, fmt.Errorf("unknown landing zone type %q", spec.Type)
	}
}

// BuildReference constructs the reference source declared by spec.
func BuildReference(spec domain.ReferenceSpec) (ReferenceSource, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("reference %q: path is required", spec.Name)
	}
	return NewFileReference(spec.Name, spec.Path, spec.Format), nil
}
