// Package storage keeps FILE responses in a MinIO bucket. Object
// names are the deterministic upload keys built by the assembler, so
// re-submitting the same duplicated row overwrites the prior object.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/formsly/formsly/assemble"
	"github.com/formsly/formsly/config"
)

const jpegQuality = 75

type Store struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

func New(cfg config.Config) (*Store, error) {
	c, err := minio.New(cfg.StorageEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.StorageAccessKey, cfg.StorageSecretKey, ""),
		Secure: cfg.StorageSSL,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := c.BucketExists(ctx, cfg.StorageBucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := c.MakeBucket(ctx, cfg.StorageBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &Store{
		client:     c,
		bucket:     cfg.StorageBucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func (s *Store) Upload(ctx context.Context, key string, f assemble.File) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(f.Content), int64(len(f.Content)),
		minio.PutObjectOptions{ContentType: f.ContentType})
	if err != nil {
		return "", err
	}
	return s.publicURL(key), nil
}

// UploadImage re-encodes the image as a quality-capped JPEG before
// storing it. A file that does not decode as an image fails the
// upload outright rather than falling through to the raw path.
func (s *Store) UploadImage(ctx context.Context, key string, f assemble.File) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(f.Content))
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", f.Name, err)
	}

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("compress %s: %w", f.Name, err)
	}

	compressed := assemble.File{
		Name:        f.Name,
		ContentType: "image/jpeg",
		Content:     buf.Bytes(),
	}
	return s.Upload(ctx, key, compressed)
}

func (s *Store) publicURL(key string) string {
	u, _ := url.Parse(s.publicBase)
	u.Path = path.Join(u.Path, s.bucket, key)
	return u.String()
}
