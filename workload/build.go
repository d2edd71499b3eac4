package workload

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/Octogonapus/S3BenchRunner/util"
)

const (
	defaultNumFiles       = 1
	defaultFilesOnDisk    = true
	defaultMaxRepeatCount = 10
	defaultMaxRepeatSecs  = 600
)

// Source is the human-authored workload form. Fields are omitted when
// defaults are in use; Build fills everything in so runners can stay dumb.
type Source struct {
	Action         Action            `json:"action"`
	FileSize       string            `json:"fileSize"`
	Comment        string            `json:"comment"`
	NumFiles       int               `json:"numFiles"`
	FilesOnDisk    *bool             `json:"filesOnDisk"`
	Checksum       ChecksumAlgorithm `json:"checksum"`
	MaxRepeatCount int               `json:"maxRepeatCount"`
	MaxRepeatSecs  int               `json:"maxRepeatSecs"`
}

func LoadSource(path string) (*Source, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload source failed: %w", err)
	}
	var s Source
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("parsing workload source %s failed: %w", path, err)
	}
	return &s, nil
}

var sizeRe = regexp.MustCompile(`^(\d+)(KiB|MiB|GiB|bytes|byte)$`)

// ParseSize returns the byte count for strings like "5GiB", "10KiB", or "1byte".
func ParseSize(s string) (int64, error) {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf(`illegal size %q, expected something like "1KiB"`, s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("illegal size %q: %w", s, err)
	}
	switch m[2] {
	case "KiB":
		n *= util.KiB
	case "MiB":
		n *= util.MiB
	case "GiB":
		n *= util.GiB
	}
	return n, nil
}

func (s *Source) numFiles() int {
	if s.NumFiles == 0 {
		return defaultNumFiles
	}
	return s.NumFiles
}

func (s *Source) filesOnDisk() bool {
	if s.FilesOnDisk == nil {
		return defaultFilesOnDisk
	}
	return *s.FilesOnDisk
}

func (s *Source) maxRepeatCount() int {
	if s.MaxRepeatCount == 0 {
		return defaultMaxRepeatCount
	}
	return s.MaxRepeatCount
}

func (s *Source) maxRepeatSecs() int {
	if s.MaxRepeatSecs == 0 {
		return defaultMaxRepeatSecs
	}
	return s.MaxRepeatSecs
}

// dirName is the folder all of a workload's keys live under, like
// "256KiB-10_000x-crc32". Each workload gets its own folder so directory-wide
// tools behave, and the top-level action prefix lets a bucket be cleaned by
// deleting just "upload/" and "download/".
func (s *Source) dirName() string {
	d := fmt.Sprintf("%s-%sx", s.FileSize, groupDigits(s.numFiles()))
	if s.Checksum != ChecksumNone {
		d += "-" + strings.ToLower(string(s.Checksum))
	}
	return d
}

// ExpectedFileName is the canonical name for this source document, like
// "upload-256KiB-10_000x.src.json". A "-ram" suffix marks RAM variants; it
// stays out of dirName because a RAM download can reuse its on-disk twin's
// objects.
func (s *Source) ExpectedFileName() string {
	name := fmt.Sprintf("%s-%s", s.Action, s.dirName())
	if !s.filesOnDisk() {
		name += "-ram"
	}
	return name + ".src.json"
}

// Build expands the source form into the fully-specified run form.
func (s *Source) Build() (*Workload, error) {
	if s.Action != ActionUpload && s.Action != ActionDownload {
		return nil, fmt.Errorf("unknown action %q", s.Action)
	}
	if s.FileSize == "" {
		return nil, fmt.Errorf("fileSize is required")
	}
	size, err := ParseSize(s.FileSize)
	if err != nil {
		return nil, err
	}
	n := s.numFiles()
	if n < 1 {
		return nil, fmt.Errorf("numFiles must be positive, got %d", n)
	}

	w := &Workload{
		Version:        FormatVersion,
		Comment:        s.Comment,
		FilesOnDisk:    s.filesOnDisk(),
		Checksum:       s.Checksum,
		MaxRepeatCount: s.maxRepeatCount(),
		MaxRepeatSecs:  s.maxRepeatSecs(),
	}

	// Zero-pad indices to the width of numFiles so names sort nicely without
	// being wider than they need to be.
	width := len(strconv.Itoa(n))
	dir := s.dirName()
	for i := 1; i <= n; i++ {
		w.Tasks = append(w.Tasks, Task{
			Action: s.Action,
			Key:    fmt.Sprintf("%s/%s/%0*d", s.Action, dir, width, i),
			Size:   size,
		})
	}

	if err := w.validate(); err != nil {
		return nil, fmt.Errorf("built workload is invalid: %w", err)
	}
	return w, nil
}

// groupDigits renders 10000 as "10_000", per the workload naming convention.
func groupDigits(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('_')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
