package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oscar-mlm/bbpe/oscar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, cfg oscar.Config) *httptest.Server {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("첫 문서.\n\n둘째 문서.\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	sum := sha256.Sum256(buf.Bytes())
	objects := map[string][]byte{
		cfg.Prefix() + cfg.ChecksumFile(): []byte(
			hex.EncodeToString(sum[:]) + " ko_part_1.txt.gz\n"),
		cfg.Prefix() + "ko_part_1.txt.gz": buf.Bytes(),
	}
	return httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			body, ok := objects[strings.TrimPrefix(r.URL.Path, "/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write(body)
		}))
}

func TestDownload(t *testing.T) {
	cfg := oscar.NewConfig("ko", true)
	server := newServer(t, cfg)
	defer server.Close()

	downloader := oscar.NewDownloader(nil, t.TempDir())
	downloader.BaseURL = server.URL
	require.NoError(t, download(context.Background(), downloader, cfg, -1))
	shards, err := oscar.GlobShards(downloader.Dir(cfg))
	require.NoError(t, err)
	assert.Len(t, shards, 1)
}

func TestDownload_Missing(t *testing.T) {
	cfg := oscar.NewConfig("ja", false)
	server := newServer(t, oscar.NewConfig("ko", true))
	defer server.Close()

	downloader := oscar.NewDownloader(nil, t.TempDir())
	downloader.BaseURL = server.URL
	assert.Error(t, download(context.Background(), downloader, cfg, 0))
}

func TestListShards_RequiresS3(t *testing.T) {
	var out bytes.Buffer
	err := listShards(oscar.NewDownloader(nil, t.TempDir()),
		oscar.NewConfig("ko", true), &out)
	assert.Error(t, err)
	assert.Empty(t, out.String())
}
