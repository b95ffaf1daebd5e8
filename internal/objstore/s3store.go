package objstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const metaHeaderPrefix = "x-amz-meta-"

// splitHeaders separates the x-amz-meta-* entries of headers (stripped of
// their prefix, ready for CreateMultipartUploadInput.Metadata, which the
// SDK re-prefixes itself) from the acl/storage-class entries the caller
// already applies via dedicated SDK fields.
func splitHeaders(headers map[string]string) map[string]string {
	meta := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if strings.HasPrefix(lower, metaHeaderPrefix) {
			meta[k[len(metaHeaderPrefix):]] = v
		}
	}
	return meta
}

// S3Store implements Store against any S3-compatible endpoint via the AWS
// SDK, the way the teacher's pkg/streaming.Streamer and
// pkg/sync.IncrementalSyncer wrap *s3.Client.
type S3Store struct {
	client       *s3.Client
	bucket       string
	storageClass string
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds an S3Store. storageClass defaults to STANDARD_IA when
// empty, matching the headers consumed by the core (section 4.4).
func NewS3Store(client *s3.Client, bucket, storageClass string) *S3Store {
	if storageClass == "" {
		storageClass = "STANDARD_IA"
	}
	return &S3Store{client: client, bucket: bucket, storageClass: storageClass}
}

func (s *S3Store) InitiateMultipart(ctx context.Context, keyName string, headers map[string]string) (*Handle, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(keyName),
		ACL:          types.ObjectCannedACLBucketOwnerFullControl,
		StorageClass: types.StorageClass(s.storageClass),
		Metadata:     splitHeaders(headers),
	})
	if err != nil {
		return nil, fmt.Errorf("initiate multipart upload for %s: %w", keyName, err)
	}

	return &Handle{UploadID: aws.ToString(out.UploadId), KeyName: keyName}, nil
}

func (s *S3Store) UploadPart(ctx context.Context, h *Handle, index int, chunk []byte) (PartUploadResult, error) {
	sum := md5.Sum(chunk)

	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(h.KeyName),
		UploadId:   aws.String(h.UploadID),
		PartNumber: aws.Int32(int32(index)),
		Body:       bytes.NewReader(chunk),
	})
	if err != nil {
		return PartUploadResult{}, fmt.Errorf("upload part %d of %s: %w", index, h.KeyName, err)
	}

	// Prefer the server-reported ETag (quoted hex md5 for non-multipart
	// parts) when present; fall back to the locally computed digest.
	md5Hex := hex.EncodeToString(sum[:])
	if tag := aws.ToString(out.ETag); len(tag) >= 2 {
		if unquoted := tag[1 : len(tag)-1]; len(unquoted) == 32 {
			md5Hex = unquoted
		}
	}

	return PartUploadResult{MD5Hex: md5Hex}, nil
}

func (s *S3Store) Complete(ctx context.Context, h *Handle) (string, error) {
	if err := h.markComplete(); err != nil {
		return "", err
	}

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(h.KeyName),
		UploadId: aws.String(h.UploadID),
	})
	if err != nil {
		return "", fmt.Errorf("complete multipart upload of %s: %w", h.KeyName, err)
	}
	return aws.ToString(out.ETag), nil
}

func (s *S3Store) Cancel(ctx context.Context, h *Handle) error {
	if err := h.markCancelled(); err != nil {
		return err
	}

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(h.KeyName),
		UploadId: aws.String(h.UploadID),
	})
	if err != nil {
		return fmt.Errorf("cancel multipart upload of %s: %w", h.KeyName, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]KeyRef, error) {
	var refs []KeyRef
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			refs = append(refs, KeyRef{Key: aws.ToString(obj.Key)})
		}
	}
	return refs, nil
}

func (s *S3Store) GetKey(ctx context.Context, ref KeyRef) (ObjectMeta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("head object %s: %w", ref.Key, err)
	}
	return ObjectMeta{
		Name:     ref.Key,
		Size:     aws.ToInt64(out.ContentLength),
		Metadata: out.Metadata,
	}, nil
}
