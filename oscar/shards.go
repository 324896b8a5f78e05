package oscar

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yargevad/filepathx"
)

var partPattern = regexp.MustCompile(`_part_(\d+)\.txt(\.gz)?$`)

// Shard is one file of an OSCAR subset.
type Shard struct {
	Name   string
	Part   int
	Sha256 string
	Path   string
}

func partNumber(name string) (int, bool) {
	match := partPattern.FindStringSubmatch(name)
	if match == nil {
		return 0, false
	}
	part, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return part, true
}

func sortShards(shards []Shard) {
	sort.SliceStable(shards, func(i, j int) bool {
		if shards[i].Part != shards[j].Part {
			return shards[i].Part < shards[j].Part
		}
		return shards[i].Name < shards[j].Name
	})
}

// ParseChecksums
// Parses a `<lang>_sha256.txt` file of `<sha256> <file>` lines into shards
// sorted by part number.
func ParseChecksums(r io.Reader) ([]Shard, error) {
	shards := make([]Shard, 0)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || len(fields[0]) != 64 {
			return nil, fmt.Errorf("malformed checksum on line %d: %q",
				lineNo, line)
		}
		name := strings.TrimPrefix(fields[1], "*")
		part, ok := partNumber(name)
		if !ok {
			return nil, fmt.Errorf("no part number in `%s` on line %d",
				name, lineNo)
		}
		shards = append(shards, Shard{
			Name:   name,
			Part:   part,
			Sha256: strings.ToLower(fields[0]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sortShards(shards)
	return shards, nil
}

// GlobShards
// Recursively finds the `.txt.gz` and `.txt` shards below dir, ordered by
// part number. Checksum listings are skipped.
func GlobShards(dir string) ([]Shard, error) {
	matches := make([]string, 0)
	for _, pattern := range []string{"/**/*.txt.gz", "/**/*.txt"} {
		found, err := filepathx.Glob(dir + pattern)
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
	}
	shards := make([]Shard, 0, len(matches))
	for _, match := range matches {
		name := path.Base(match)
		if strings.HasSuffix(name, "_sha256.txt") {
			continue
		}
		if stat, err := os.Stat(match); err != nil || stat.IsDir() {
			continue
		}
		part, _ := partNumber(name)
		shards = append(shards, Shard{Name: name, Part: part, Path: match})
	}
	if len(shards) == 0 {
		return nil, errors.New(fmt.Sprintf(
			"%s does not contain any .txt or .txt.gz files", dir))
	}
	sortShards(shards)
	return shards, nil
}
