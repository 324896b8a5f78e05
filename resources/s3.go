package resources

import (
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Client is the subset of the S3 API used to list and fetch objects. It is
// satisfied by *s3.S3.
type S3Client interface {
	ListObjectsV2(input *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output,
		error)
	GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error)
}

// NewS3Client
// Creates an S3 client for region. Public buckets are read with anonymous
// credentials.
func NewS3Client(region string, anonymous bool) (*s3.S3, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if anonymous {
		cfg.Credentials = credentials.AnonymousCredentials
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot create S3 session: %w", err)
	}
	return s3.New(sess), nil
}

// ListS3Recursively
// Sends every object below prefix in bucket onto objects, following
// continuation tokens until the listing is exhausted. The channel is not
// closed.
func ListS3Recursively(svc S3Client, bucket string, prefix string,
	objects chan<- *s3.Object) error {
	var continuation *string
	for {
		out, err := svc.ListObjectsV2(&s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return fmt.Errorf("cannot list s3://%s/%s: %w", bucket, prefix,
				err)
		}
		for _, obj := range out.Contents {
			objects <- obj
		}
		if !aws.BoolValue(out.IsTruncated) ||
			out.NextContinuationToken == nil {
			return nil
		}
		continuation = out.NextContinuationToken
	}
}

// ListS3
// Collects the objects below prefix in bucket into a slice.
func ListS3(svc S3Client, bucket string, prefix string) ([]*s3.Object,
	error) {
	objects := make(chan *s3.Object, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- ListS3Recursively(svc, bucket, prefix, objects)
		close(objects)
	}()
	found := make([]*s3.Object, 0)
	for obj := range objects {
		found = append(found, obj)
	}
	return found, <-errCh
}

// FetchS3
// Opens the object at key in bucket, returning its body and content length.
func FetchS3(svc S3Client, bucket string, key string) (io.ReadCloser,
	uint64, error) {
	out, err := svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("cannot fetch s3://%s/%s: %w", bucket,
			key, err)
	}
	return out.Body, uint64(aws.Int64Value(out.ContentLength)), nil
}
