package state

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendEtcd     = "etcd"
)

// Options selects and configures a state backend.
type Options struct {
	Backend       string
	FilePath      string
	LockConfig    LockConfig
	PostgresDSN   string
	S3Bucket      string
	S3Prefix      string
	EtcdEndpoints []string
	EtcdPrefix    string
}

// Open constructs the store named by opts.Backend. An empty backend means
// the local file store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		if opts.FilePath == "" {
			return nil, fmt.Errorf("file state backend requires a path")
		}
		return NewFileStore(opts.FilePath).WithLockConfig(opts.LockConfig), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres state backend requires a DSN")
		}
		return NewPostgresStore(ctx, opts.PostgresDSN)
	case BackendS3:
		return NewS3Store(ctx, opts.S3Bucket, opts.S3Prefix)
	case BackendEtcd:
		return NewEtcdStore(opts.EtcdEndpoints, opts.EtcdPrefix)
	}
	return nil, fmt.Errorf("unknown state backend %q", opts.Backend)
}
