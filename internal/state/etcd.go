package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdKV is the subset of clientv3.KV the store needs.
type etcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

// EtcdStore implements Store with one key per guild under a prefix.
type EtcdStore struct {
	kv     etcdKV
	client *clientv3.Client
	prefix string
}

// NewEtcdStore connects to the given endpoints.
func NewEtcdStore(endpoints []string, prefix string) (*EtcdStore, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("etcd state backend requires at least one endpoint")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}
	s := newEtcdStore(cli, prefix)
	s.client = cli
	return s, nil
}

func newEtcdStore(kv etcdKV, prefix string) *EtcdStore {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "/guildkeeper/guilds"
	}
	return &EtcdStore{kv: kv, prefix: prefix + "/"}
}

// Get implements Store.
func (s *EtcdStore) Get(ctx context.Context, guildID string) (*GuildRecord, error) {
	resp, err := s.kv.Get(ctx, s.prefix+guildID)
	if err != nil {
		return nil, fmt.Errorf("etcd get: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return decodeRecord(resp.Kvs[0].Value)
}

// Put implements Store.
func (s *EtcdStore) Put(ctx context.Context, rec *GuildRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, s.prefix+rec.GuildID, string(data)); err != nil {
		return fmt.Errorf("etcd put: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *EtcdStore) Delete(ctx context.Context, guildID string) error {
	if _, err := s.kv.Delete(ctx, s.prefix+guildID); err != nil {
		return fmt.Errorf("etcd delete: %w", err)
	}
	return nil
}

// List implements Store.
func (s *EtcdStore) List(ctx context.Context) ([]string, error) {
	resp, err := s.kv.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("etcd list: %w", err)
	}
	ids := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ids = append(ids, strings.TrimPrefix(string(kv.Key), s.prefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *EtcdStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
