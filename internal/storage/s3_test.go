//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/askbase-io/askbase/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Client_UploadDownloadDelete(t *testing.T) {
	ctx := context.Background()

	s3Container := testutil.NewRustFSContainer(ctx, t)
	defer s3Container.Terminate(ctx)

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        s3Container.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-sources",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	require.NoError(t, client.EnsureBucket(ctx))
	// Idempotent when the bucket already exists.
	require.NoError(t, client.EnsureBucket(ctx))

	content := []byte("Our refund policy covers all purchases within 30 days.")
	require.NoError(t, client.Upload(ctx, "proj-1/policy.txt", "text/plain", content))

	t.Run("Download returns uploaded bytes", func(t *testing.T) {
		data, err := client.Download(ctx, "proj-1/policy.txt")
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("Download of missing key fails", func(t *testing.T) {
		_, err := client.Download(ctx, "proj-1/missing.txt")
		assert.Error(t, err)
	})

	t.Run("Delete removes the object", func(t *testing.T) {
		require.NoError(t, client.DeleteObject(ctx, "proj-1/policy.txt"))

		_, err := client.Download(ctx, "proj-1/policy.txt")
		assert.Error(t, err)
	})
}
