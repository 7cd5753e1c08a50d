package lexical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

const snapshotVersion = 1

// SnapshotStore holds the serialized record collection. Save always replaces
// the previous snapshot in full.
type SnapshotStore interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

type snapshot struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

func encode(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(snapshot{Version: snapshotVersion, Records: records})
}

func decode(data []byte) ([]Record, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("lexical: decode snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("lexical: unsupported snapshot version %d", s.Version)
	}
	return s.Records, nil
}

// FileSnapshot keeps the snapshot as a JSON file. Writes go to a temp file in
// the same directory and are renamed over the target.
type FileSnapshot struct {
	Path string
}

func (f FileSnapshot) Load(_ context.Context) ([]Record, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lexical: read %s: %w", f.Path, err)
	}
	return decode(data)
}

func (f FileSnapshot) Save(_ context.Context, records []Record) error {
	data, err := encode(records)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lexical: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("lexical: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("lexical: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("lexical: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("lexical: close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("lexical: replace snapshot: %w", err)
	}
	return nil
}

// RedisSnapshot keeps the snapshot as a single string key.
type RedisSnapshot struct {
	Client redis.Cmdable
	Key    string
}

func (r RedisSnapshot) Load(ctx context.Context) ([]Record, error) {
	data, err := r.Client.Get(ctx, r.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lexical: redis get %s: %w", r.Key, err)
	}
	return decode(data)
}

func (r RedisSnapshot) Save(ctx context.Context, records []Record) error {
	data, err := encode(records)
	if err != nil {
		return err
	}
	if err := r.Client.Set(ctx, r.Key, data, 0).Err(); err != nil {
		return fmt.Errorf("lexical: redis set %s: %w", r.Key, err)
	}
	return nil
}
