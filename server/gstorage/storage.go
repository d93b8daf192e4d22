package gstorage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/logger"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	transferTimeout = 50 * time.Second
	sqliteMimeType  = "application/vnd.sqlite3"
)

var ErrObjectNotExist = storage.ErrObjectNotExist

// GStorage moves sqlite snapshots in and out of a bucket
type GStorage struct {
	client *storage.Client
	logg   *zap.SugaredLogger
}

// NewGStorage creates a client from 'credentialsFilePath', or from the
// default application credentials when it's empty.
func NewGStorage(ctx context.Context, credentialsFilePath string, logg *zap.SugaredLogger) (*GStorage, error) {
	opts := []option.ClientOption{}
	if credentialsFilePath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFilePath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gstorage: %v", err)
	}

	return &GStorage{client: client, logg: logger.OrNop(logg)}, nil
}

// UploadFile stores the snapshot at 'filePath' as 'object', tagged with when it was taken
func (gs *GStorage) UploadFile(ctx context.Context, bucket, object, filePath string) error {
	snapshot, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("gstorage: open snapshot: %v", err)
	}
	defer snapshot.Close()

	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	w := gs.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = sqliteMimeType
	w.Metadata = map[string]string{"snapshot-taken-at": time.Now().UTC().Format(time.RFC3339)}

	written, err := io.Copy(w, snapshot)
	if err != nil {
		w.Close()
		return fmt.Errorf("gstorage: upload %v: %v", object, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("gstorage: finish upload %v: %v", object, err)
	}

	gs.logg.Infof(colors.Blue("[gstorage] ")+"uploaded %v bytes to gs://%v/%v", written, bucket, object)
	return nil
}

// DownloadFile restores 'object' into 'dest'. The object is written next to
// 'dest' first and renamed over it once complete, so a failed download never
// leaves a truncated database behind. ErrObjectNotExist is returned as is.
func (gs *GStorage) DownloadFile(ctx context.Context, bucket, object, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	r, err := gs.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return err
	}
	if err != nil {
		return fmt.Errorf("gstorage: read %v: %v", object, err)
	}
	defer r.Close()

	partial := dest + ".part"
	if err := writeFile(partial, r); err != nil {
		os.Remove(partial)
		return fmt.Errorf("gstorage: download %v: %v", object, err)
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return fmt.Errorf("gstorage: restore %v: %v", dest, err)
	}

	gs.logg.Infof(colors.Blue("[gstorage] ")+"restored gs://%v/%v into %v", bucket, object, dest)
	return nil
}

func (gs *GStorage) Close() error {
	return gs.client.Close()
}

// ObjectName is where the backup of the local file 'filePath' lives under 'prefix'
func ObjectName(prefix, filePath string) string {
	return path.Join(prefix, filepath.Base(filePath))
}

func writeFile(name string, src io.Reader) error {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
