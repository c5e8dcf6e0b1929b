// Package retention sweeps aged dialog log files and cost rows. Files older
// than the policy are gzipped (or deleted); a size budget then removes the
// oldest uncompressed files. The sweep never mutates a file in place.
package retention

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/cuber-it/heinzel-ki/config"
	"github.com/cuber-it/heinzel-ki/costs"
)

type (
	// Result reports one log sweep.
	Result struct {
		Compressed int     `json:"compressed"`
		Deleted    int     `json:"deleted"`
		FreedMB    float64 `json:"freed_mb"`
	}

	// DBResult reports one cost row sweep.
	DBResult struct {
		Deleted int64 `json:"deleted"`
	}
)

// SweepLogs applies the retention policy to *.jsonl* files under dir.
// Compressed backups are never touched. Per-file errors are logged and do
// not abort the sweep.
func SweepLogs(ctx context.Context, dir string, policy config.Retention) Result {
	var (
		res        Result
		freedBytes int64
	)
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.LogMaxAgeDays)

	for _, path := range logFiles(dir) {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		size := info.Size()
		if policy.Compress() {
			gzSize, err := compressFile(path)
			if err != nil {
				log.Errorf(ctx, err, "retention: compress %s", path)
				continue
			}
			freedBytes += size - gzSize
			res.Compressed++
			log.Printf(ctx, "retention: compressed %s (%dKB -> %dKB)",
				filepath.Base(path), size/1024, gzSize/1024)
		} else {
			if err := os.Remove(path); err != nil {
				log.Errorf(ctx, err, "retention: delete %s", path)
				continue
			}
			freedBytes += size
			res.Deleted++
			log.Printf(ctx, "retention: deleted %s", filepath.Base(path))
		}
	}

	if policy.LogMaxSizeMB > 0 {
		active := logFiles(dir)
		var total int64
		sizes := make(map[string]int64, len(active))
		for _, path := range active {
			if info, err := os.Stat(path); err == nil {
				sizes[path] = info.Size()
				total += info.Size()
			}
		}
		limit := int64(policy.LogMaxSizeMB) * 1024 * 1024
		for _, path := range active {
			if total <= limit {
				break
			}
			if err := os.Remove(path); err != nil {
				log.Errorf(ctx, err, "retention: delete %s", path)
				continue
			}
			freedBytes += sizes[path]
			total -= sizes[path]
			res.Deleted++
			log.Printf(ctx, "retention: deleted %s (size budget)", filepath.Base(path))
		}
	}

	res.FreedMB = math.Round(float64(freedBytes)/(1024*1024)*100) / 100
	return res
}

// SweepCosts deletes cost rows older than the metrics retention age.
func SweepCosts(ctx context.Context, store *costs.Store, policy config.Retention) DBResult {
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.MetricsMaxAgeDays)
	n, err := store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Errorf(ctx, err, "retention: sweep cost rows")
		return DBResult{}
	}
	log.Printf(ctx, "retention: deleted %d cost rows older than %dd", n, policy.MetricsMaxAgeDays)
	return DBResult{Deleted: n}
}

// logFiles returns the uncompressed *.jsonl* files under dir, oldest first.
func logFiles(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl*"))
	if err != nil {
		return nil
	}
	var files []string
	for _, f := range matches {
		if strings.HasSuffix(f, ".gz") {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		fi, erri := os.Stat(files[i])
		fj, errj := os.Stat(files[j])
		if erri != nil || errj != nil {
			return files[i] < files[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})
	return files
}

// compressFile gzips path to path.gz, removes the original and returns the
// compressed size.
func compressFile(path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	gzPath := path + ".gz"
	out, err := os.Create(gzPath)
	if err != nil {
		return 0, err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		os.Remove(gzPath)
		return 0, fmt.Errorf("copy: %w", err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(gzPath)
		return 0, err
	}
	if err := out.Close(); err != nil {
		os.Remove(gzPath)
		return 0, err
	}
	if err := os.Remove(path); err != nil {
		return 0, err
	}
	info, err := os.Stat(gzPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
