package oscar

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oscar-mlm/bbpe/resources"
)

// Downloader
// Fetches the shards of an OSCAR subset into CacheDir, from S3 when S3 is
// set, or over HTTP from BaseURL otherwise.
type Downloader struct {
	S3       resources.S3Client
	Bucket   string
	BaseURL  string
	CacheDir string
	Workers  int
}

// NewDownloader returns a Downloader for the public OSCAR bucket.
func NewDownloader(svc resources.S3Client, cacheDir string) *Downloader {
	return &Downloader{
		S3:       svc,
		Bucket:   DefaultBucket,
		BaseURL:  DefaultBaseURL,
		CacheDir: cacheDir,
		Workers:  4,
	}
}

// ctxReader fails reads once its context is done.
type ctxReader struct {
	ctx    context.Context
	reader io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.reader.Read(p)
}

// fetch opens the object name below the prefix of cfg.
func (d *Downloader) fetch(cfg Config, name string) (io.ReadCloser, uint64,
	error) {
	if d.S3 != nil {
		return resources.FetchS3(d.S3, d.Bucket, cfg.Prefix()+name)
	}
	if d.BaseURL == "" {
		return nil, 0, errors.New("oscar: neither S3 nor BaseURL is set")
	}
	base := strings.TrimSuffix(d.BaseURL, "/") + "/" +
		strings.TrimSuffix(cfg.Prefix(), "/")
	size, _ := resources.SizeHTTP(base, name, "")
	reader, err := resources.FetchHTTP(base, name, "")
	if err != nil {
		return nil, 0, fmt.Errorf("cannot fetch %s/%s: %w", base, name, err)
	}
	return reader, uint64(size), nil
}

// Dir returns the directory the shards of cfg are cached in.
func (d *Downloader) Dir(cfg Config) string {
	return path.Join(d.CacheDir, cfg.Name())
}

// FileSha256 returns the hex sha256 digest of the file at filePath.
func FileSha256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hasher := sha256.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Checksums fetches and parses the checksum listing of cfg, keeping a copy
// in the cache directory.
func (d *Downloader) Checksums(ctx context.Context, cfg Config) ([]Shard,
	error) {
	if err := os.MkdirAll(d.Dir(cfg), 0755); err != nil {
		return nil, err
	}
	reader, _, err := d.fetch(cfg, cfg.ChecksumFile())
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	listing, err := io.ReadAll(ctxReader{ctx, reader})
	if err != nil {
		return nil, fmt.Errorf("cannot read `%s`: %w", cfg.ChecksumFile(),
			err)
	}
	if err = os.WriteFile(path.Join(d.Dir(cfg), cfg.ChecksumFile()),
		listing, 0644); err != nil {
		return nil, err
	}
	shards, err := ParseChecksums(bytes.NewReader(listing))
	if err != nil {
		return nil, err
	}
	for idx := range shards {
		shards[idx].Path = path.Join(d.Dir(cfg), shards[idx].Name)
	}
	return shards, nil
}

// downloadShard
// Downloads shard unless a copy with a matching digest is cached. A
// download whose digest does not match is removed.
func (d *Downloader) downloadShard(ctx context.Context, cfg Config,
	shard Shard) error {
	if _, statErr := os.Stat(shard.Path); statErr == nil {
		if digest, err := FileSha256(shard.Path); err == nil &&
			digest == shard.Sha256 {
			log.Printf("Skipping %s... already exists with a matching "+
				"checksum.", shard.Name)
			return nil
		}
		log.Printf("Re-downloading %s... checksum mismatch.", shard.Name)
	}

	reader, size, err := d.fetch(cfg, shard.Name)
	if err != nil {
		return err
	}
	defer reader.Close()
	partialPath := shard.Path + ".incomplete"
	written, err := resources.CopyWithProgress(partialPath,
		ctxReader{ctx, reader}, size, shard.Name)
	if err != nil {
		os.Remove(partialPath)
		return err
	}
	digest, err := FileSha256(partialPath)
	if err != nil {
		os.Remove(partialPath)
		return err
	}
	if digest != shard.Sha256 {
		os.Remove(partialPath)
		return fmt.Errorf("checksum mismatch for `%s`: expected %s, got %s",
			shard.Name, shard.Sha256, digest)
	}
	if err = os.Rename(partialPath, shard.Path); err != nil {
		return err
	}
	log.Printf("Downloaded %s... %s completed.", shard.Name,
		humanize.Bytes(uint64(written)))
	return nil
}

// Download
// Fetches the checksum listing of cfg and every shard it names that is not
// already cached, verifying each against its sha256 digest. Shards are
// downloaded by Workers goroutines; the first failure cancels the rest.
func (d *Downloader) Download(ctx context.Context, cfg Config) ([]Shard,
	error) {
	start := time.Now()
	shards, err := d.Checksums(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("Resolving %d shards of %s into %s", len(shards), cfg.Name(),
		d.Dir(cfg))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan Shard)
	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for shard := range jobs {
				if shardErr := d.downloadShard(ctx, cfg,
					shard); shardErr != nil {
					errOnce.Do(func() {
						firstErr = shardErr
						cancel()
					})
				}
			}
		}()
	}
feed:
	for _, shard := range shards {
		select {
		case jobs <- shard:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var total uint64
	for _, shard := range shards {
		if stat, statErr := os.Stat(shard.Path); statErr == nil {
			total += uint64(stat.Size())
		}
	}
	log.Printf("Resolved %d shards of %s, %s in %s.", len(shards),
		cfg.Name(), humanize.Bytes(total), time.Since(start))
	return shards, nil
}

// ListShards
// Lists the objects below the prefix of cfg in the bucket. Only available
// with an S3 client.
func (d *Downloader) ListShards(cfg Config) ([]Shard, error) {
	if d.S3 == nil {
		return nil, errors.New("oscar: listing requires an S3 client")
	}
	objects, err := resources.ListS3(d.S3, d.Bucket, cfg.Prefix())
	if err != nil {
		return nil, err
	}
	shards := make([]Shard, 0, len(objects))
	for _, obj := range objects {
		name := path.Base(*obj.Key)
		part, ok := partNumber(name)
		if !ok {
			continue
		}
		shards = append(shards, Shard{
			Name: name,
			Part: part,
			Path: path.Join(d.Dir(cfg), name),
		})
	}
	sortShards(shards)
	return shards, nil
}
