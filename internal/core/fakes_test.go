package core

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kmkr/telegrab-go/internal/fetcher"
	"github.com/kmkr/telegrab-go/internal/storage"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// fakeRepo is an in-memory storage.Repository used across core's tests, so
// handler logic can be exercised without a real database.
type fakeRepo struct {
	mu       sync.Mutex
	docs     map[int32]storage.Doc
	pics     map[int32]storage.Pic
	cbz      map[int32]storage.Cbz
	settings map[string]string
	dailies  map[string]storage.DailyStat
	nextPic  int32
	nextCbz  int32
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		docs:     make(map[int32]storage.Doc),
		pics:     make(map[int32]storage.Pic),
		cbz:      make(map[int32]storage.Cbz),
		settings: make(map[string]string),
		dailies:  make(map[string]storage.DailyStat),
	}
}

func (r *fakeRepo) GetDoc(id int32) (storage.Doc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return storage.Doc{}, storage.ErrNotFound
	}
	return d, nil
}

func (r *fakeRepo) GetDocsByIds(ids []int32) ([]storage.Doc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Doc
	for _, id := range ids {
		if d, ok := r.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetUnparsedDocs() ([]storage.Doc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Doc
	for _, d := range r.docs {
		if d.Status == storage.DocUnparsed {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateDocStatus(id int32, status int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return storage.ErrNotFound
	}
	d.Status = status
	r.docs[id] = d
	return nil
}

func (r *fakeRepo) ApplyManifest(docID int32, manifest fetcher.AlbumManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docID]
	if !ok {
		return storage.ErrNotFound
	}

	recorded := make(map[string]struct{})
	nextSeq := 0
	for _, p := range r.pics {
		if p.DocID == docID {
			recorded[p.URL] = struct{}{}
			if p.Seq >= nextSeq {
				nextSeq = p.Seq + 1
			}
		}
	}
	for _, url := range manifest.ImageURLs {
		if _, ok := recorded[url]; ok {
			continue
		}
		r.nextPic++
		r.pics[r.nextPic] = storage.Pic{ID: r.nextPic, DocID: docID, URL: url, Seq: nextSeq}
		recorded[url] = struct{}{}
		nextSeq++
	}

	d.PageTitle = manifest.Title
	d.Date = manifest.Date
	d.PageCount = len(manifest.ImageURLs)
	d.Status = storage.DocParsed
	r.docs[docID] = d
	return nil
}

func (r *fakeRepo) GetPic(id int32) (storage.Pic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pics[id]
	if !ok {
		return storage.Pic{}, storage.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) GetPicsByDocId(docID int32) ([]storage.Pic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Pic
	for _, p := range r.pics {
		if p.DocID == docID {
			out = append(out, p)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Seq < out[i].Seq {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) GetPicsByIds(ids []int32) ([]storage.Pic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Pic
	for _, id := range ids {
		if p, ok := r.pics[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdatePicHash(id int32, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pics[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Hash = hash
	r.pics[id] = p
	return nil
}

func (r *fakeRepo) GetCbzById(id int32) (storage.Cbz, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cbz[id]
	if !ok {
		return storage.Cbz{}, storage.ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) GetCbzByPath(path string) (storage.Cbz, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cbz {
		if c.Path == path {
			return c, true, nil
		}
	}
	return storage.Cbz{}, false, nil
}

func (r *fakeRepo) CreateCbz(path string) (storage.Cbz, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCbz++
	c := storage.Cbz{ID: r.nextCbz, Path: path}
	r.cbz[c.ID] = c
	return c, nil
}

func (r *fakeRepo) CreateCbzLinked(docID int32, path string) (storage.Cbz, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCbz++
	id := docID
	c := storage.Cbz{ID: r.nextCbz, Path: path, DocID: &id}
	r.cbz[c.ID] = c
	return c, nil
}

func (r *fakeRepo) UpdateCbzLink(id int32, docID *int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cbz[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.DocID = docID
	r.cbz[id] = c
	return nil
}

func (r *fakeRepo) DeleteCbz(id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cbz, id)
	return nil
}

func (r *fakeRepo) GetSetting(key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.settings[key]
	return v, ok, nil
}

func (r *fakeRepo) SetSetting(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
	return nil
}

func (r *fakeRepo) BumpDailyStat(date string, bytesDownloaded, archivesCreated int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.dailies[date]
	d.Date = date
	d.BytesDownloaded += bytesDownloaded
	d.ArchivesCreated += archivesCreated
	r.dailies[date] = d
	return nil
}

func (r *fakeRepo) ListDailyStats(limit int) ([]storage.DailyStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.DailyStat
	for _, d := range r.dailies {
		out = append(out, d)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeFetcher returns canned manifests/downloads keyed by URL, so handler
// tests don't touch the network.
type fakeFetcher struct {
	mu        sync.Mutex
	manifests map[string]fetcher.AlbumManifest
	failURLs  map[string]bool
	downloads []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		manifests: make(map[string]fetcher.AlbumManifest),
		failURLs:  make(map[string]bool),
	}
}

func (f *fakeFetcher) ParseAlbum(ctx context.Context, url string) (fetcher.AlbumManifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failURLs[url] {
		return fetcher.AlbumManifest{}, fmt.Errorf("fake: parse failed")
	}
	m, ok := f.manifests[url]
	if !ok {
		return fetcher.AlbumManifest{}, fmt.Errorf("fake: no manifest for %s", url)
	}
	return m, nil
}

func (f *fakeFetcher) Download(ctx context.Context, url, path string) (fetcher.DownloadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failURLs[url] {
		return fetcher.DownloadResult{}, fmt.Errorf("fake: download failed")
	}
	f.downloads = append(f.downloads, url)
	if err := writeFile(path, []byte("fake-image-bytes")); err != nil {
		return fetcher.DownloadResult{}, err
	}
	return fetcher.DownloadResult{Size: 16, Speed: 16}, nil
}
