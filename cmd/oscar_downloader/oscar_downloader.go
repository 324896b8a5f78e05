package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/oscar-mlm/bbpe/oscar"
	"github.com/oscar-mlm/bbpe/resources"
)

// listShards prints the shards of cfg available in the bucket.
func listShards(downloader *oscar.Downloader, cfg oscar.Config,
	out io.Writer) error {
	shards, err := downloader.ListShards(cfg)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		fmt.Fprintf(out, "%d\t%s\n", shard.Part, shard.Name)
	}
	return nil
}

// download fetches the shards of cfg and, with statsLimit set, summarizes
// the first statsLimit records.
func download(ctx context.Context, downloader *oscar.Downloader,
	cfg oscar.Config, statsLimit int) error {
	shards, err := downloader.Download(ctx, cfg)
	if err != nil {
		return err
	}
	var size uint64
	for _, shard := range shards {
		if stat, statErr := os.Stat(shard.Path); statErr == nil {
			size += uint64(stat.Size())
		}
	}
	log.Printf("%d shards, %s in %s", len(shards), humanize.Bytes(size),
		downloader.Dir(cfg))
	if statsLimit != 0 {
		records, closeRecords := oscar.OpenRecords(shards)
		defer closeRecords()
		stats, statsErr := oscar.Summarize(records, statsLimit)
		if statsErr != nil {
			return statsErr
		}
		log.Print(stats)
	}
	return nil
}

func main() {
	language := flag.String("language", "ko", "OSCAR language code")
	original := flag.Bool("original", false,
		"fetch the original subset instead of the deduplicated one")
	cacheDir := flag.String("cache", "./oscar",
		"where to download the shards to")
	workers := flag.Int("workers", 4, "concurrent shard downloads")
	list := flag.Bool("list", false, "list the shards and exit")
	useHTTP := flag.Bool("http", false,
		"download over HTTP instead of the S3 API")
	region := flag.String("region", "",
		"S3 region, defaults to $AWS_REGION or "+oscar.DefaultRegion)
	statsLimit := flag.Int("stats", 0,
		"summarize this many records after downloading, -1 for all")
	flag.Parse()
	if *language == "" {
		flag.Usage()
		log.Fatal("Must provide -language")
	}
	if *region == "" {
		*region = os.Getenv("AWS_REGION")
		if *region == "" {
			*region = oscar.DefaultRegion
		}
	}

	downloader := oscar.NewDownloader(nil, *cacheDir)
	downloader.Workers = *workers
	if !*useHTTP {
		svc, err := resources.NewS3Client(*region, true)
		if err != nil {
			log.Fatal(err)
		}
		downloader.S3 = svc
	}
	cfg := oscar.NewConfig(*language, !*original)

	if *list {
		if err := listShards(downloader, cfg, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := download(ctx, downloader, cfg, *statsLimit); err != nil {
		log.Fatal(err)
	}
}
