package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/gammon/engine"
)

var ErrUnsafeArchive = errf("archive entry escapes extraction directory")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

const maxEntryBytes = 32 << 20

var logExtensions = []string{".mat", ".txt"}

// BatchResult summarizes one archive.
type BatchResult struct {
	BatchID    string       `json:"batchId"`
	TotalFiles int          `json:"totalFiles"`
	Results    []FileResult `json:"results"`
}

// Succeeded counts files that produced artifacts.
func (b BatchResult) Succeeded() int {
	return lo.CountBy(b.Results, func(r FileResult) bool { return r.Status == StatusSuccess })
}

// FileDone is called after each file with its 1-based position.
type FileDone func(index, total int, r FileResult)

// AnalyzeBatch extracts the match logs in zipPath and analyzes them one by one.
// A file that fails on its own is recorded and the batch continues; a missing
// or unspawnable engine aborts the whole batch.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, batchID, zipPath string, onFile FileDone) (BatchResult, error) {
	res := BatchResult{BatchID: batchID}
	if p.waiter != nil {
		if err := p.waiter.Wait(ctx, zipPath); err != nil {
			return res, err
		}
	}

	root := filepath.Join(p.cfg.OutputDir, batchID)
	files, err := extractLogs(zipPath, filepath.Join(root, "input"))
	if err != nil {
		return res, fmt.Errorf("extract %s: %w", zipPath, err)
	}
	res.TotalFiles = len(files)
	res.Results = make([]FileResult, 0, len(files))
	p.logger.Info("analysis_batch_start", zap.String("batch_id", batchID), zap.Int("files", len(files)))

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("batch %s: %w", batchID, err)
		}
		out := filepath.Join(root, fmt.Sprintf("%03d_%s", i+1, stem(f)))
		r, err := p.analyzeLocal(ctx, f, FileOptions{OutputDir: out})
		if err != nil && fatalForBatch(err) {
			return res, err
		}
		res.Results = append(res.Results, r)
		if onFile != nil {
			onFile(i+1, len(files), r)
		}
	}
	p.logger.Info("analysis_batch_done", zap.String("batch_id", batchID), zap.Int("files", len(files)), zap.Int("succeeded", res.Succeeded()))
	return res, nil
}

func fatalForBatch(err error) bool {
	return errors.Is(err, engine.ErrEngineMissing) ||
		errors.Is(err, engine.ErrSpawn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// extractLogs writes every match-log entry of the archive under dest and
// returns their paths in archive-name order. Other entries are ignored.
func extractLogs(zipPath, dest string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	entries := lo.Filter(zr.File, func(f *zip.File, _ int) bool {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			return false
		}
		return lo.Contains(logExtensions, strings.ToLower(path.Ext(f.Name)))
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, f := range entries {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return nil, err
		}
		if err := extractOne(f, target); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		out = append(out, target)
	}
	return out, nil
}

func safeJoin(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(name) || lo.Contains(strings.Split(name, "/"), "..") {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}
	root := filepath.Clean(dest)
	target := filepath.Join(root, filepath.FromSlash(name))
	if !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}
	return target, nil
}

func extractOne(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(w, io.LimitReader(rc, maxEntryBytes+1))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n > maxEntryBytes {
		return fmt.Errorf("entry larger than %d bytes", maxEntryBytes)
	}
	return nil
}
