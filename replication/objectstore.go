package replication

import (
	"bytes"
	"context"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/metrigo/model"
	"github.com/hupe1980/metrigo/serial"
)

// ObjectStore replicates bucket writes into a MinIO/S3-compatible object
// store, one object per record, keyed by the record ID under a prefix.
// Each record is written as a self-contained serialization frame so a
// replica can decode it in isolation.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStore creates a replicator writing into bucket under
// rootPrefix (e.g. "replica/").
func NewObjectStore(client *minio.Client, bucket, rootPrefix string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, prefix: rootPrefix}
}

func (s *ObjectStore) key(id string) string {
	return path.Join(s.prefix, id)
}

// ReplicateStore implements Replicator.
func (s *ObjectStore) ReplicateStore(ctx context.Context, obj model.Object) error {
	// A fresh serializator per frame keeps every stored object
	// self-delimiting, including its type definition.
	var buf bytes.Buffer
	if _, err := serial.NewSerializator().Write(&buf, obj); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucket, s.key(obj.ID()),
		bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{})
	return err
}

// ReplicateRemove implements Replicator. Removing an absent key is not an
// error.
func (s *ObjectStore) ReplicateRemove(ctx context.Context, id string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(id), minio.RemoveObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil
		}
		return err
	}
	return nil
}
