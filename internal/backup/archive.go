package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver stores backup files outside the local machine.
type Archiver interface {
	Upload(ctx context.Context, file File) (string, error)
	Download(ctx context.Context, objectName string) ([]byte, error)
	List(ctx context.Context) ([]ArchivedObject, error)
}

type ArchivedObject struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Profile   string
}

// MinioArchive keeps backups under <bucket>/<profile>/<filename>.
type MinioArchive struct {
	client  *minio.Client
	bucket  string
	profile string
}

func NewMinioArchive(cfg MinioConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioArchive{client: client, bucket: cfg.Bucket, profile: profileSegment(cfg.Profile)}, nil
}

// ObjectName is the object key for a backup file of this profile.
func (a *MinioArchive) ObjectName(fileName string) string {
	return path.Join(a.profile, path.Base(fileName))
}

func (a *MinioArchive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

func (a *MinioArchive) Upload(ctx context.Context, file File) (string, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}
	name := a.ObjectName(file.Name)
	_, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(file.Data), int64(len(file.Data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return name, nil
}

// Download accepts either a full object name or a bare file name of this profile.
func (a *MinioArchive) Download(ctx context.Context, objectName string) ([]byte, error) {
	name := objectName
	if !strings.Contains(name, "/") {
		name = a.ObjectName(name)
	}
	obj, err := a.client.GetObject(ctx, a.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxImportSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// List returns the profile's archived backups, newest first.
func (a *MinioArchive) List(ctx context.Context) ([]ArchivedObject, error) {
	items := make([]ArchivedObject, 0)
	for info := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    a.profile + "/",
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", a.bucket, info.Err)
		}
		items = append(items, ArchivedObject{Name: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].LastModified.After(items[j].LastModified)
	})
	return items, nil
}

func profileSegment(profile string) string {
	profile = strings.Trim(strings.TrimSpace(profile), "/")
	profile = strings.ReplaceAll(profile, "/", "-")
	if profile == "" {
		return "default"
	}
	return profile
}
