// Package core implements the Worker/WorkerPool that drive tasks to
// terminal status, the per-kind handler dispatch, and the AutoCleaner
// background loop.
package core

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/kmkr/telegrab-go/internal/analytics"
	"github.com/kmkr/telegrab-go/internal/config"
	"github.com/kmkr/telegrab-go/internal/fetcher"
	"github.com/kmkr/telegrab-go/internal/filesystem"
	"github.com/kmkr/telegrab-go/internal/integrity"
	"github.com/kmkr/telegrab-go/internal/storage"
	"github.com/kmkr/telegrab-go/internal/task"
)

// Deps bundles the external collaborators and configured paths every
// handler needs. One Deps is shared by every Worker in a pool.
type Deps struct {
	Repo      storage.Repository
	Fetcher   fetcher.Fetcher
	PicDir    string
	CbzDir    string
	Allocator *filesystem.Allocator
	Verifier  *integrity.FileVerifier
	Stats     *analytics.StatsManager
	Cfg       *config.ConfigManager
}

// handlerFunc executes one task's kind-specific logic, returning a result
// string on success. progress(p) may be called zero or more times with a
// value in [0,1]; handlers that have no natural progress measure simply
// never call it.
type handlerFunc func(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error)

func dispatch(kind task.Kind) handlerFunc {
	switch kind {
	case task.KindHtmlParse:
		return handleHtmlParse
	case task.KindHtmlParseAll:
		return handleHtmlParseAll
	case task.KindPicDownload:
		return handlePicDownload
	case task.KindCbzArchive:
		return handleCbzArchive
	case task.KindScanDir:
		return handleScanDir
	case task.KindRemoveCbz:
		return handleRemoveCbz
	case task.KindFsCbzAdded:
		return handleFsCbzAdded
	case task.KindFsCbzRemoved:
		return handleFsCbzRemoved
	default:
		return handleUnsupported
	}
}

func handleUnsupported(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error) {
	return "", fmt.Errorf("core: no handler for task kind %q", t.Kind)
}

// handleHtmlParse fetches and records a doc's album manifest, returning
// early with the existing title if the doc is already parsed.
func handleHtmlParse(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error) {
	doc, err := d.Repo.GetDoc(t.Payload.DocID)
	if err != nil {
		return "", fmt.Errorf("load doc %d: %w", t.Payload.DocID, err)
	}

	if doc.Status == storage.DocParsed && doc.PageTitle != "" {
		return doc.PageTitle, nil
	}

	manifest, err := d.Fetcher.ParseAlbum(ctx, doc.URL)
	if err != nil {
		return "", fmt.Errorf("parse album %s: %w", doc.URL, err)
	}

	if err := d.Repo.ApplyManifest(doc.ID, manifest); err != nil {
		return "", fmt.Errorf("apply manifest for doc %d: %w", doc.ID, err)
	}

	return manifest.Title, nil
}

// handleHtmlParseAll runs handleHtmlParse over every unparsed doc in order,
// stopping at the first error.
func handleHtmlParseAll(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error) {
	docs, err := d.Repo.GetUnparsedDocs()
	if err != nil {
		return "", fmt.Errorf("list unparsed docs: %w", err)
	}

	for i, doc := range docs {
		sub := task.Task{Payload: task.Payload{DocID: doc.ID}}
		if _, err := handleHtmlParse(ctx, d, sub, nil); err != nil {
			return "", fmt.Errorf("parse doc %d (%d/%d): %w", doc.ID, i+1, len(docs), err)
		}
		if progress != nil {
			progress(float64(i+1) / float64(len(docs)))
		}
	}
	return fmt.Sprintf("parsed %d docs", len(docs)), nil
}

// picFilename computes the zero-padded filename for image seq among total
// images: width is at least 3 digits, widening as needed to fit total.
func picFilename(seq, total int, url string) string {
	width := 3
	if total > 0 {
		if w := int(math.Ceil(math.Log10(float64(total)))) + 1; w > width {
			width = w
		}
	}
	ext := fetcher.Extension(url, "jpg")
	return fmt.Sprintf("%0*d.%s", width, seq, ext)
}

// handlePicDownload downloads every pic not already present on disk for a
// doc, skipping files that already exist, and marks the doc downloaded
// once every pic has succeeded.
func handlePicDownload(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error) {
	doc, err := d.Repo.GetDoc(t.Payload.DocID)
	if err != nil {
		return "", fmt.Errorf("load doc %d: %w", t.Payload.DocID, err)
	}

	pics, err := d.Repo.GetPicsByDocId(doc.ID)
	if err != nil {
		return "", fmt.Errorf("load pics for doc %d: %w", doc.ID, err)
	}

	dir := filepath.Join(d.PicDir, fetcher.LastPathSegment(doc.URL))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create pic dir %s: %w", dir, err)
	}

	total := len(pics)
	succeeded := 0
	checkIntegrity := d.Cfg != nil && d.Cfg.GetEnableIntegrityCheck()

	for i, pic := range pics {
		filename := picFilename(pic.Seq, total, pic.URL)
		path := filepath.Join(dir, filename)

		if _, err := os.Stat(path); err == nil {
			succeeded++
		} else {
			result, err := d.Fetcher.Download(ctx, pic.URL, path)
			if err != nil {
				continue
			}
			if d.Stats != nil {
				d.Stats.TrackDownload(result.Size)
			}
			if checkIntegrity && d.Verifier != nil {
				if hash, err := integrity.CalculateHash(path); err == nil {
					_ = d.Repo.UpdatePicHash(pic.ID, hash)
				}
			}
			succeeded++
		}

		if progress != nil && total > 0 {
			progress(float64(i+1) / float64(total))
		}
	}

	if succeeded == total {
		if err := d.Repo.UpdateDocStatus(doc.ID, storage.DocDownloaded); err != nil {
			return "", fmt.Errorf("mark doc %d downloaded: %w", doc.ID, err)
		}
	}

	return fmt.Sprintf("%s,%d/%d", dir, succeeded, total), nil
}

// archiveFilename derives the CBZ filename: "[writer]title.cbz" when both
// are known, falling back to the scraped page title, then the doc's URL.
func archiveFilename(doc storage.Doc) string {
	switch {
	case doc.Writer != "" && doc.Title != "":
		return fmt.Sprintf("[%s]%s.cbz", doc.Writer, doc.Title)
	case doc.Title == "" && doc.PageTitle != "":
		return doc.PageTitle + ".cbz"
	default:
		return fetcher.LastPathSegment(doc.URL) + ".cbz"
	}
}

// handleCbzArchive packages a doc's downloaded pics plus a generated
// ComicInfo.xml into a .cbz file and links the resulting archive row
// back to the doc.
func handleCbzArchive(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error) {
	doc, err := d.Repo.GetDoc(t.Payload.DocID)
	if err != nil {
		return "", fmt.Errorf("load doc %d: %w", t.Payload.DocID, err)
	}

	pics, err := d.Repo.GetPicsByDocId(doc.ID)
	if err != nil {
		return "", fmt.Errorf("load pics for doc %d: %w", doc.ID, err)
	}
	doc.PageCount = len(pics)

	picDir := filepath.Join(d.PicDir, fetcher.LastPathSegment(doc.URL))
	entries, err := os.ReadDir(picDir)
	if err != nil {
		return "", fmt.Errorf("read pic dir %s: %w", picDir, err)
	}

	if d.Allocator != nil {
		var estimate int64
		for _, e := range entries {
			if info, err := e.Info(); err == nil {
				estimate += info.Size()
			}
		}
		if err := d.Allocator.CheckSpace(d.CbzDir, estimate); err != nil {
			return "", fmt.Errorf("preflight disk check: %w", err)
		}
	}

	if err := os.MkdirAll(d.CbzDir, 0o755); err != nil {
		return "", fmt.Errorf("create cbz dir: %w", err)
	}

	filename := archiveFilename(doc)
	path := filepath.Join(d.CbzDir, filename)

	if err := writeCbz(path, doc, picDir, entries); err != nil {
		return "", fmt.Errorf("write cbz %s: %w", path, err)
	}

	if err := d.Repo.UpdateDocStatus(doc.ID, storage.DocArchived); err != nil {
		return "", fmt.Errorf("mark doc %d archived: %w", doc.ID, err)
	}

	if existing, ok, err := d.Repo.GetCbzByPath(filename); err != nil {
		return "", fmt.Errorf("lookup cbz by path: %w", err)
	} else if ok {
		docID := doc.ID
		if err := d.Repo.UpdateCbzLink(existing.ID, &docID); err != nil {
			return "", fmt.Errorf("link cbz: %w", err)
		}
	} else {
		if _, err := d.Repo.CreateCbzLinked(doc.ID, filename); err != nil {
			return "", fmt.Errorf("create cbz: %w", err)
		}
	}

	if d.Stats != nil {
		d.Stats.TrackArchive()
	}

	return path, nil
}

func writeCbz(path string, doc storage.Doc, picDir string, entries []os.DirEntry) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	defer zw.Close()

	info := buildComicInfo(doc.Title, doc.Writer, doc.Date, doc.PageCount)
	xmlBytes, err := marshalComicInfo(info)
	if err != nil {
		return err
	}
	w, err := zw.Create("ComicInfo.xml")
	if err != nil {
		return err
	}
	if _, err := w.Write(xmlBytes); err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src, err := os.Open(filepath.Join(picDir, e.Name()))
		if err != nil {
			return err
		}
		dst, err := zw.Create(e.Name())
		if err != nil {
			src.Close()
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			src.Close()
			return err
		}
		src.Close()
	}

	return nil
}

// handleScanDir walks cbzDir and inserts a Cbz row for any .cbz file not
// already tracked.
func handleScanDir(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error) {
	added := 0
	err := filepath.Walk(d.CbzDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".cbz") {
			return nil
		}
		rel, err := filepath.Rel(d.CbzDir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		if _, ok, err := d.Repo.GetCbzByPath(rel); err != nil {
			return err
		} else if !ok {
			if _, err := d.Repo.CreateCbz(rel); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan cbz dir: %w", err)
	}
	return fmt.Sprintf("scanned, %d added", added), nil
}

// handleRemoveCbz deletes a tracked archive's file and row. A file that is
// already gone is ignored. Any other file delete failure is not fatal
// either: the row is still removed and the failure is reported in the
// result text.
func handleRemoveCbz(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error) {
	c, err := d.Repo.GetCbzById(t.Payload.CbzID)
	if err != nil {
		return "", fmt.Errorf("load cbz %d: %w", t.Payload.CbzID, err)
	}

	path := filepath.Join(d.CbzDir, c.Path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// File delete failure isn't fatal: still drop the row and surface
		// the error to the caller via the result text.
		if err := d.Repo.DeleteCbz(c.ID); err != nil {
			return "", fmt.Errorf("remove cbz row %d: %w", c.ID, err)
		}
		return fmt.Sprintf("row removed, file delete failed: %v", err), nil
	}

	if err := d.Repo.DeleteCbz(c.ID); err != nil {
		return "", fmt.Errorf("remove cbz row %d: %w", c.ID, err)
	}
	return "removed", nil
}

// handleFsCbzAdded tracks a .cbz file discovered on disk, idempotently —
// a path that's already tracked is left untouched.
func handleFsCbzAdded(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error) {
	path := t.Payload.Path
	if _, ok, err := d.Repo.GetCbzByPath(path); err != nil {
		return "", fmt.Errorf("lookup cbz %s: %w", path, err)
	} else if ok {
		return "already tracked", nil
	}
	if _, err := d.Repo.CreateCbz(path); err != nil {
		return "", fmt.Errorf("create cbz %s: %w", path, err)
	}
	return "added", nil
}

// handleFsCbzRemoved drops the row for a .cbz file that disappeared from
// disk; a no-op if the path was never tracked.
func handleFsCbzRemoved(ctx context.Context, d *Deps, t task.Task, progress func(float64)) (string, error) {
	path := t.Payload.Path
	c, ok, err := d.Repo.GetCbzByPath(path)
	if err != nil {
		return "", fmt.Errorf("lookup cbz %s: %w", path, err)
	}
	if !ok {
		return "not tracked", nil
	}
	if err := d.Repo.DeleteCbz(c.ID); err != nil {
		return "", fmt.Errorf("remove cbz %s: %w", path, err)
	}
	return "removed", nil
}
