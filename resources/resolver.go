package resources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

type ResourceFlag uint8

// WriteCounter counts the number of bytes written to it, and every 10 seconds,
// it prints a message reporting the number of bytes written so far.
type WriteCounter struct {
	Total    uint64
	Last     time.Time
	Reported bool
	Path     string
	Size     uint64
}

func (wc *WriteCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.Total += uint64(n)
	if time.Since(wc.Last).Seconds() > 10 {
		wc.Reported = true
		wc.Last = time.Now()
		log.Printf("Downloading %s... %s / %s completed.",
			wc.Path, humanize.Bytes(wc.Total), humanize.Bytes(wc.Size))
	}
	return n, nil
}

// Enumeration of resource flags that indicate what the resolver should do
// with the resource.
const (
	RESOURCE_REQUIRED ResourceFlag = 1 << iota
	RESOURCE_OPTIONAL
	RESOURCE_DERIVED
	RESOURCE_MODEL
)

type ResourceEntryDefs map[string]ResourceFlag

type ResourceEntry struct {
	file  io.Closer
	unmap func() error
	Data  []byte
}

type Resources map[string]ResourceEntry

// Cleanup unmaps and closes every resolved resource.
func (rsrcs Resources) Cleanup() {
	for name, rsrc := range rsrcs {
		if rsrc.unmap != nil {
			if err := rsrc.unmap(); err != nil {
				log.Printf("error unmapping %s: %v", name, err)
			}
		}
		if rsrc.file != nil {
			rsrc.file.Close()
		}
	}
}

// TokenizerEntries
// Returns the map of resource entries that make up a trained tokenizer
// directory, and whether they are required or optional.
func TokenizerEntries() ResourceEntryDefs {
	return ResourceEntryDefs{
		"vocab.json":              RESOURCE_REQUIRED,
		"merges.txt":              RESOURCE_REQUIRED,
		"special_tokens_map.json": RESOURCE_OPTIONAL,
		"tokenizer.json":          RESOURCE_OPTIONAL,
		"tokenizer_config.json":   RESOURCE_OPTIONAL,
		"config.json":             RESOURCE_OPTIONAL,
	}
}

// ConfigEntries
// Returns the resource entries needed to resolve a model configuration.
func ConfigEntries() ResourceEntryDefs {
	return ResourceEntryDefs{
		"config.json": RESOURCE_REQUIRED,
	}
}

// FetchHuggingFace
// Wrapper around FetchHTTP that fetches a resource from huggingface.co.
func FetchHuggingFace(id string, rsrc string) (io.ReadCloser, error) {
	return FetchHTTP("https://huggingface.co/"+id+"/resolve/main", rsrc,
		hfToken())
}

// SizeHuggingFace
// Wrapper around SizeHTTP that gets the size of a resource from huggingface.co.
func SizeHuggingFace(id string, rsrc string) (uint, error) {
	return SizeHTTP("https://huggingface.co/"+id+"/resolve/main", rsrc,
		hfToken())
}

func isValidUrl(toTest string) bool {
	_, err := url.ParseRequestURI(toTest)
	if err != nil {
		return false
	}

	u, err := url.Parse(toTest)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	return true
}

// isLocalDir reports whether uri names an existing local directory.
func isLocalDir(uri string) bool {
	stat, err := os.Stat(uri)
	return err == nil && stat.IsDir()
}

// Fetch
// Given a base URI and a resource name, determines if the resource is local,
// remote, or from huggingface.co. If the resource is local, it returns a
// file handle to the resource. If the resource is remote, or from
// huggingface.co, it fetches the resource and returns a ReadCloser to it.
func Fetch(uri string, rsrc string) (io.ReadCloser, error) {
	if isValidUrl(uri) {
		return FetchHTTP(uri, rsrc, hfToken())
	} else if isLocalDir(uri) {
		handle, fileErr := os.Open(path.Join(uri, rsrc))
		if fileErr != nil {
			return nil, fmt.Errorf("error opening %s/%s: %w",
				uri, rsrc, fileErr)
		}
		return handle, nil
	} else {
		return FetchHuggingFace(uri, rsrc)
	}
}

// Size
// Given a base URI and a resource name, determine the size of the resource.
func Size(uri string, rsrc string) (uint, error) {
	if isValidUrl(uri) {
		return SizeHTTP(uri, rsrc, hfToken())
	} else if isLocalDir(uri) {
		fsz, err := os.Stat(path.Join(uri, rsrc))
		if err != nil {
			return 0, err
		}
		return uint(fsz.Size()), nil
	} else {
		return SizeHuggingFace(uri, rsrc)
	}
}

// AddEntry
// Add a resource to the Resources map, opening it as a mmap.MMap.
func (rsrcs Resources) AddEntry(name string, file *os.File) error {
	fileMmap, unmap, mmapErr := readMmap(file)
	if mmapErr != nil {
		return fmt.Errorf("error trying to mmap file: %w", mmapErr)
	}
	rsrcs[name] = ResourceEntry{file: file, unmap: unmap, Data: fileMmap}
	return nil
}

// CopyWithProgress
// Copies reader into the file at targetPath, logging progress through a
// WriteCounter labelled with label. Returns the number of bytes written.
func CopyWithProgress(targetPath string, reader io.Reader, size uint64,
	label string) (int64, error) {
	outFile, err := os.OpenFile(targetPath,
		os.O_TRUNC|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("error opening '%s' for write: %w",
			targetPath, err)
	}
	counter := &WriteCounter{
		Last: time.Now(),
		Path: label,
		Size: size,
	}
	written, ioErr := io.Copy(outFile, io.TeeReader(reader, counter))
	closeErr := outFile.Close()
	if ioErr != nil {
		return written, fmt.Errorf("error downloading '%s': %w", label,
			ioErr)
	}
	return written, closeErr
}

// Specials
// Map of special token roles to their text, such as `bos_token` to `<s>`.
type Specials map[string]string

// ResolveSpecialTokens
// Reads `special_tokens_map.json`, if resolved, normalizing entries that are
// either plain strings or objects with a `content` field.
func (rsrcs Resources) ResolveSpecialTokens() (Specials, error) {
	realizedSpecials := make(Specials)
	specialsJson, ok := rsrcs["special_tokens_map.json"]
	if !ok {
		return realizedSpecials, nil
	}

	specialTokens := make(map[string]interface{})
	if specialErr := json.Unmarshal(specialsJson.Data,
		&specialTokens); specialErr != nil {
		return nil, fmt.Errorf("cannot unmarshal "+
			"`special_tokens_map.json`: %w", specialErr)
	}

	for k, v := range specialTokens {
		switch t := v.(type) {
		case string:
			realizedSpecials[k] = t
		case map[string]interface{}:
			content, isString := t["content"].(string)
			if !isString {
				return nil, fmt.Errorf("unknown format for "+
					"`special_tokens_map.json`: %v", t)
			}
			realizedSpecials[k] = content
		default:
			// `additional_special_tokens` and friends are lists; the
			// tokenizer picks those up from its vocabulary.
			continue
		}
	}
	return realizedSpecials, nil
}

// ResolveResources resolves all resources at a given uri, and checks if they
// exist in the given directory. If they don't exist, they are downloaded.
func ResolveResources(uri string, dir string, entries ResourceEntryDefs,
	rsrcLvl ResourceFlag) (Resources, error) {
	foundResources := make(Resources)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return foundResources, err
	}

	files := make([]string, 0, len(entries))
	for file := range entries {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		flag := entries[file]
		if flag > rsrcLvl {
			continue
		}
		log.Printf("Resolving %s/%s... ", uri, file)
		targetPath := path.Join(dir, file)
		rsrcSize, rsrcSizeErr := Size(uri, file)
		if rsrcSizeErr != nil {
			if flag&RESOURCE_REQUIRED != 0 {
				log.Printf("%s/%s not found, required!", uri, file)
				foundResources.Cleanup()
				return nil, errors.New(fmt.Sprintf(
					"cannot retrieve required `%s` from `%s`: %s",
					file, uri, rsrcSizeErr))
			}
			log.Printf("Resolved %s/%s... not there, not required.",
				uri, file)
			continue
		}

		sameFile := false
		if absUri, absErr := filepath.Abs(uri); absErr == nil {
			if absDir, dirErr := filepath.Abs(dir); dirErr == nil {
				sameFile = absUri == absDir
			}
		}
		targetStat, targetStatErr := os.Stat(targetPath)
		if sameFile || (targetStatErr == nil &&
			uint(targetStat.Size()) == rsrcSize) {
			log.Printf("Skipping %s/%s... already exists, "+
				"and of the correct size.", uri, file)
		} else {
			rsrcReader, rsrcErr := Fetch(uri, file)
			if rsrcErr != nil {
				foundResources.Cleanup()
				return nil, errors.New(fmt.Sprintf(
					"cannot retrieve `%s` from `%s`: %s",
					file, uri, rsrcErr))
			}
			bytesDownloaded, copyErr := CopyWithProgress(targetPath,
				rsrcReader, uint64(rsrcSize),
				fmt.Sprintf("%s/%s", uri, file))
			rsrcReader.Close()
			if copyErr != nil {
				foundResources.Cleanup()
				return nil, copyErr
			}
			log.Printf("Downloaded %s/%s... %s completed.", uri, file,
				humanize.Bytes(uint64(bytesDownloaded)))
		}

		openFile, openErr := os.Open(targetPath)
		if openErr != nil {
			foundResources.Cleanup()
			return nil, fmt.Errorf("error opening '%s': %w", file,
				openErr)
		}
		if mmapErr := foundResources.AddEntry(file,
			openFile); mmapErr != nil {
			openFile.Close()
			foundResources.Cleanup()
			return nil, mmapErr
		}
	}
	return foundResources, nil
}
