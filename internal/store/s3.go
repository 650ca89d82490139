package store

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"
	"github.com/spaolacci/murmur3"

	"github.com/larder/larder/internal/errors"
	"github.com/larder/larder/pkg/event"
)

// shardCount spreads entity prefixes across a fixed set of key prefixes so
// writes don't concentrate on one S3 partition.
const shardCount = 16

// S3Store is the distributed event store backend. Uniqueness of
// (entityId, version) is emulated by using the version as the object key
// inside a per-entity prefix and creating objects conditionally: a
// concurrent writer racing on the same version loses with a precondition
// failure, which maps onto the same conflict type the embedded store
// reports.
//
// Object layout: <prefix>/events/<shard>/<entityId>/<version>.sz where the
// body is a snappy-compressed JSON document of the store item and the
// shard is a murmur3 hash of the entity id.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logrus.Entry
}

// S3Options holds configuration for the S3 event store.
type S3Options struct {
	// Region is the AWS region for the bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
	// Prefix is an optional key prefix in front of the event layout.
	Prefix string
}

// NewS3Store creates an S3-backed event store.
func NewS3Store(ctx context.Context, bucket string, opts S3Options) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewStoreError("failed to load AWS config", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3StoreWithClient(s3.NewFromConfig(awsCfg, s3Opts...), bucket, opts), nil
}

// NewS3StoreWithClient creates an S3-backed event store with a
// pre-configured client.
func NewS3StoreWithClient(client *s3.Client, bucket string, opts S3Options) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		log:    logrus.WithField("component", "s3store"),
	}
}

// EventsForEntity lists and fetches the per-entity prefix.
func (s *S3Store) EventsForEntity(ctx context.Context, entityID string) ([]event.StoreItem, error) {
	return s.itemsUnderPrefix(ctx, s.entityPrefix(entityID), event.Time{})
}

// Events walks every shard prefix, fetching all events with timestamp
// strictly after the cursor. The full-log walk mirrors the catch-up query
// a document store would serve with a collection-group index; deployments
// with large logs should front it with the embedded store instead.
func (s *S3Store) Events(ctx context.Context, cursor event.Time) ([]event.StoreItem, error) {
	var items []event.StoreItem
	for shard := 0; shard < shardCount; shard++ {
		prefix := s.key(fmt.Sprintf("events/%02x/", shard))
		shardItems, err := s.itemsUnderPrefix(ctx, prefix, cursor)
		if err != nil {
			return nil, err
		}
		items = append(items, shardItems...)
	}
	return items, nil
}

// SaveEvents writes one object per item with a conditional create. The
// batch is not a true transaction: on a mid-batch conflict the objects
// already written are deleted before the conflict is reported. Items are
// written in ascending version order, so a racing reader never observes a
// gap below a version it has seen.
func (s *S3Store) SaveEvents(ctx context.Context, items []event.StoreItem) error {
	if len(items) == 0 {
		return nil
	}

	ordered := make([]event.StoreItem, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	var written []string
	for _, item := range ordered {
		key := s.itemKey(item.EntityID, item.Version)

		doc, err := json.Marshal(item)
		if err != nil {
			return errors.NewStoreError("failed to serialize event document", err)
		}
		body := snappy.Encode(nil, doc)

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			IfNoneMatch: aws.String("*"),
		})
		if err != nil {
			if isS3AlreadyExists(err) {
				s.rollback(ctx, written)
				return errors.NewConflictError(item.EntityID, item.Version)
			}
			s.rollback(ctx, written)
			return errors.NewStoreError("failed to write event object", err)
		}
		written = append(written, key)
	}

	return nil
}

// Close is a no-op; the S3 client holds no local resources.
func (s *S3Store) Close() error { return nil }

func (s *S3Store) rollback(ctx context.Context, keys []string) {
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			s.log.WithError(err).WithField("key", key).
				Warn("failed to roll back partially written batch")
		}
	}
}

func (s *S3Store) itemsUnderPrefix(ctx context.Context, prefix string, cursor event.Time) ([]event.StoreItem, error) {
	var items []event.StoreItem

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewStoreError("failed to list event objects", err)
		}

		for _, object := range page.Contents {
			item, err := s.fetchItem(ctx, aws.ToString(object.Key))
			if err != nil {
				return nil, err
			}
			if !cursor.IsZero() && !item.Timestamp.After(cursor.Time) {
				continue
			}
			items = append(items, item)
		}
	}

	return items, nil
}

func (s *S3Store) fetchItem(ctx context.Context, key string) (event.StoreItem, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return event.StoreItem{}, errors.NewStoreError("failed to fetch event object", err)
	}
	defer out.Body.Close()

	compressed, err := io.ReadAll(out.Body)
	if err != nil {
		return event.StoreItem{}, errors.NewStoreError("failed to read event object", err)
	}

	doc, err := snappy.Decode(nil, compressed)
	if err != nil {
		return event.StoreItem{}, errors.NewStoreError("corrupt event object "+key, err)
	}

	var item event.StoreItem
	if err := json.Unmarshal(doc, &item); err != nil {
		return event.StoreItem{}, errors.NewStoreError("corrupt event document "+key, err)
	}
	return item, nil
}

func (s *S3Store) entityPrefix(entityID string) string {
	shard := murmur3.Sum32([]byte(entityID)) % shardCount
	return s.key(fmt.Sprintf("events/%02x/%s/", shard, entityID))
}

func (s *S3Store) itemKey(entityID string, version int) string {
	return s.entityPrefix(entityID) + fmt.Sprintf("%010d.sz", version)
}

func (s *S3Store) key(suffix string) string {
	if s.prefix == "" {
		return suffix
	}
	return path.Join(s.prefix, suffix) + "/"
}

// isS3AlreadyExists matches the errors S3 reports when a conditional
// create loses: 412 PreconditionFailed, or 409 ConditionalRequestConflict
// when two conditional writers race.
func isS3AlreadyExists(err error) bool {
	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
