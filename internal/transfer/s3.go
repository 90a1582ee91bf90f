package transfer

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/TFMV/nestegg/internal/logger"
)

// s3Uploader uploads to any S3-compatible endpoint. The destination
// host is the endpoint, username/password are the access keys, and the
// first directory component is the bucket.
type s3Uploader struct {
	dest   Destination
	client *minio.Client
	bucket string
	prefix string
}

func newS3Uploader(dest Destination) (*s3Uploader, error) {
	directory := NormalizeDirectory(dest.Directory)
	components := strings.Split(strings.Trim(directory, "/"), "/")
	if len(components) == 0 || components[0] == "" {
		return nil, fmt.Errorf("s3 destination directory must start with a bucket name")
	}
	bucket := components[0]
	prefix := path.Join(components[1:]...)

	client, err := minio.New(hostPort(dest.Host, dest.Port, 443), &minio.Options{
		Creds:  credentials.NewStaticV4(dest.Username, dest.Password, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}

	return &s3Uploader{dest: dest, client: client, bucket: bucket, prefix: prefix}, nil
}

func (u *s3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	archiveName := filepath.Base(localPath)
	key := archiveName
	if u.prefix != "" {
		key = u.prefix + "/" + archiveName
	}

	info, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	logger.FromContext(ctx).Debug().
		Str("bucket", u.bucket).
		Str("key", key).
		Int64("bytes", info.Size).
		Msg("s3 upload completed")
	return ArtifactReference("s3", u.dest.Host, NormalizeDirectory(u.dest.Directory), archiveName), nil
}
