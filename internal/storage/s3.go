package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Service stores objects in Amazon S3 (or compatible APIs).
type S3Service struct {
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
}

func NewS3Service(client *s3.Client) *S3Service {
	return &S3Service{
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
	}
}

func (s *S3Service) UploadFile(ctx context.Context, localPath string, opts UploadOptions) (string, error) {
	if opts.Bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}
	key := strings.Trim(opts.Key, "/")
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat local path: %w", err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("local path must be a file")
	}

	progress := newUploadProgress(fi.Size(), opts.ProgressCallback)

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open file %s: %w", localPath, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if progress != nil {
		progress.emit(0)
		reader = io.TeeReader(f, progress)
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(opts.Bucket),
		Key:    aws.String(key),
		Body:   reader,
		ACL:    types.ObjectCannedACLPrivate,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}

	if progress != nil {
		progress.emit(progress.sent.Load())
	}

	return fmt.Sprintf("s3://%s/%s", opts.Bucket, key), nil
}

func (s *S3Service) GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// ListObjects returns every object under prefix. An empty prefix lists the
// whole bucket.
func (s *S3Service) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	objects := []ObjectInfo{}
	err := s.eachPage(ctx, bucket, prefix, func(page []types.Object) error {
		for _, obj := range page {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// Prune deletes every object under prefix whose key is not listed in keep.
func (s *S3Service) Prune(ctx context.Context, bucket, prefix string, keep ...string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}

	return s.eachPage(ctx, bucket, prefix, func(page []types.Object) error {
		doomed := make([]types.ObjectIdentifier, 0, len(page))
		for _, obj := range page {
			if kept[aws.ToString(obj.Key)] {
				continue
			}
			doomed = append(doomed, types.ObjectIdentifier{Key: obj.Key})
		}
		if len(doomed) == 0 {
			return nil
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: doomed, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects under %s: %w", prefix, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
		return nil
	})
}

// eachPage walks the listing under prefix one response page at a time.
func (s *S3Service) eachPage(ctx context.Context, bucket, prefix string, fn func([]types.Object) error) error {
	if bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		if err := fn(page.Contents); err != nil {
			return err
		}
	}
	return nil
}

var _ Service = (*S3Service)(nil)

// uploadProgress counts bytes read by the uploader and forwards them to the
// caller's callback at most every 200ms, plus once at the start and the end.
type uploadProgress struct {
	total int64
	sent  atomic.Int64
	cb    func(done, total int64)

	mu   sync.Mutex
	last time.Time
}

func newUploadProgress(total int64, cb func(done, total int64)) *uploadProgress {
	if cb == nil {
		return nil
	}
	return &uploadProgress{total: total, cb: cb}
}

func (p *uploadProgress) Write(b []byte) (int, error) {
	done := p.sent.Add(int64(len(b)))

	p.mu.Lock()
	due := time.Since(p.last) >= 200*time.Millisecond || done == p.total
	if due {
		p.last = time.Now()
	}
	p.mu.Unlock()

	if due {
		p.cb(done, p.total)
	}
	return len(b), nil
}

func (p *uploadProgress) emit(done int64) {
	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()
	p.cb(done, p.total)
}
