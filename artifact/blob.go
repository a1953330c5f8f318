package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"go.uber.org/zap"

	"easyretouch/logging"
)

// DefaultURLTTL is how long a staged blob's read URL stays valid.
const DefaultURLTTL = 10 * time.Minute

// BlobConfig configures BlobStore.
type BlobConfig struct {
	// ConnectionString must carry an account key; SAS URLs are signed with it.
	ConnectionString string
	Container        string
	URLTTL           time.Duration
}

// BlobStore stages artifacts in Azure Blob Storage and hands out read-only
// SAS URLs, for providers that fetch their input.
type BlobStore struct {
	client    *azblob.Client
	container string
	ttl       time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore creates the client. No network traffic happens until
// EnsureContainer or Stage is called.
func NewBlobStore(cfg BlobConfig, logger *logging.Logger) (*BlobStore, error) {
	if cfg.ConnectionString == "" || cfg.Container == "" {
		return nil, fmt.Errorf("artifact: blob store needs a connection string and container")
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact: create blob client: %w", err)
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &BlobStore{
		client:    client,
		container: cfg.Container,
		ttl:       ttl,
		logger:    logger.Named("artifact.blob"),
		now:       time.Now,
	}, nil
}

// Name implements Store.
func (b *BlobStore) Name() string {
	return "azblob"
}

// Supports implements Store.
func (b *BlobStore) Supports(req Requirement) bool {
	return req == None || req == FetchURL
}

// EnsureContainer creates the container if it does not exist yet.
func (b *BlobStore) EnsureContainer(ctx context.Context) error {
	_, err := b.client.CreateContainer(ctx, b.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("artifact: create container %s: %w", b.container, err)
	}
	b.logger.Info("artifact container ready", zap.String("container", b.container))
	return nil
}

// Stage implements Store.
func (b *BlobStore) Stage(ctx context.Context, key string, data []byte, contentType string) (*Handle, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	_, err := b.client.UploadBuffer(ctx, b.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: upload blob %s: %w", key, err)
	}

	blobClient := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(key)
	url, err := blobClient.GetSASURL(sas.BlobPermissions{Read: true}, b.now().Add(b.ttl), nil)
	if err != nil {
		b.deleteQuietly(ctx, key)
		return nil, fmt.Errorf("artifact: sign blob %s: %w", key, err)
	}

	return &Handle{Key: key, URL: url, ContentType: contentType, Size: len(data)}, nil
}

// Release implements Store.
func (b *BlobStore) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if err := validateKey(h.Key); err != nil {
		return err
	}
	_, err := b.client.DeleteBlob(ctx, b.container, h.Key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("artifact: delete blob %s: %w", h.Key, err)
	}
	return nil
}

func (b *BlobStore) deleteQuietly(ctx context.Context, key string) {
	if _, err := b.client.DeleteBlob(context.WithoutCancel(ctx), b.container, key, nil); err != nil {
		b.logger.Warn("orphaned artifact blob", zap.String("key", key), zap.Error(err))
	}
}
