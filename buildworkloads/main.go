// Command buildworkloads compiles human-authored workload source documents
// (*.src.json) into the fully-specified run form (*.run.json) the benchmark
// runner executes.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Octogonapus/S3BenchRunner/workload"
)

func main() {
	workloadsDir := flag.String("workloads-dir", "workloads", "Directory scanned for *.src.json files when no files are given as arguments.")
	flag.Parse()

	var srcFiles []string
	if flag.NArg() > 0 {
		srcFiles = flag.Args()
		for _, f := range srcFiles {
			if _, err := os.Stat(f); err != nil {
				fatalf("file not found: %s", f)
			}
			if !strings.HasSuffix(f, ".src.json") {
				fatalf(`workload src files must end with ".src.json"`)
			}
		}
	} else {
		matches, err := filepath.Glob(filepath.Join(*workloadsDir, "*.src.json"))
		if err != nil {
			fatalf("scanning %s failed: %s", *workloadsDir, err)
		}
		if len(matches) == 0 {
			fatalf("no workload src files found in %s", *workloadsDir)
		}
		sort.Strings(matches)
		srcFiles = matches
	}

	for _, srcFile := range srcFiles {
		if err := buildOne(srcFile); err != nil {
			fatalf("building %s failed: %s", srcFile, err)
		}
	}
}

func buildOne(path string) error {
	src, err := workload.LoadSource(path)
	if err != nil {
		return err
	}

	// A mismatched name usually means someone is experimenting locally, so
	// warn instead of failing.
	if expected := src.ExpectedFileName(); filepath.Base(path) != expected {
		fmt.Printf("WARNING: %q should be named %q\n", filepath.Base(path), expected)
	}

	w, err := src.Build()
	if err != nil {
		return err
	}

	buf, err := json.MarshalIndent(w, "", "    ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	dst := runFileName(path)
	if err := os.WriteFile(dst, buf, 0o644); err != nil {
		return fmt.Errorf("writing %s failed: %w", dst, err)
	}
	return nil
}

// runFileName keeps the source's name up to the first dot, so
// "download-5GiB-1x.src.json" builds "download-5GiB-1x.run.json" next to it.
func runFileName(srcPath string) string {
	base := filepath.Base(srcPath)
	name := strings.Split(base, ".")[0]
	return filepath.Join(filepath.Dir(srcPath), name+".run.json")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
