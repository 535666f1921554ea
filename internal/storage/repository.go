package storage

import (
	"errors"
	"fmt"

	"github.com/kmkr/telegrab-go/internal/fetcher"
	"gorm.io/gorm"
)

// Repository is the persistence contract the task handlers depend on.
// Storage is its only production implementation.
type Repository interface {
	GetDoc(id int32) (Doc, error)
	GetDocsByIds(ids []int32) ([]Doc, error)
	GetUnparsedDocs() ([]Doc, error)
	UpdateDocStatus(id int32, status int) error
	ApplyManifest(docID int32, manifest fetcher.AlbumManifest) error

	GetPic(id int32) (Pic, error)
	GetPicsByDocId(docID int32) ([]Pic, error)
	GetPicsByIds(ids []int32) ([]Pic, error)
	UpdatePicHash(id int32, hash string) error

	GetCbzById(id int32) (Cbz, error)
	GetCbzByPath(path string) (Cbz, bool, error)
	CreateCbz(path string) (Cbz, error)
	CreateCbzLinked(docID int32, path string) (Cbz, error)
	UpdateCbzLink(id int32, docID *int32) error
	DeleteCbz(id int32) error

	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error

	BumpDailyStat(date string, bytesDownloaded, archivesCreated int64) error
	ListDailyStats(limit int) ([]DailyStat, error)
}

// ErrNotFound is returned when a lookup by primary key finds no row.
var ErrNotFound = errors.New("storage: not found")

func (s *Storage) GetDoc(id int32) (Doc, error) {
	var d Doc
	if err := s.db.First(&d, "id = ?", id).Error; err != nil {
		return Doc{}, wrapNotFound(err)
	}
	return d, nil
}

func (s *Storage) GetDocsByIds(ids []int32) ([]Doc, error) {
	var docs []Doc
	if err := s.db.Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("storage: get docs by ids: %w", err)
	}
	return docs, nil
}

func (s *Storage) GetUnparsedDocs() ([]Doc, error) {
	var docs []Doc
	if err := s.db.Where("status = ?", DocUnparsed).Order("id").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("storage: get unparsed docs: %w", err)
	}
	return docs, nil
}

func (s *Storage) UpdateDocStatus(id int32, status int) error {
	if err := s.db.Model(&Doc{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		return fmt.Errorf("storage: update doc status: %w", err)
	}
	return nil
}

// ApplyManifest updates Doc's scraped fields and inserts any new Pic rows,
// all within a single transaction, skipping URLs already recorded for
// this doc.
func (s *Storage) ApplyManifest(docID int32, manifest fetcher.AlbumManifest) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var doc Doc
		if err := tx.First(&doc, "id = ?", docID).Error; err != nil {
			return wrapNotFound(err)
		}

		var existing []Pic
		if err := tx.Where("doc_id = ?", docID).Find(&existing).Error; err != nil {
			return fmt.Errorf("storage: load existing pics: %w", err)
		}
		recorded := make(map[string]struct{}, len(existing))
		nextSeq := 0
		for _, p := range existing {
			recorded[p.URL] = struct{}{}
			if p.Seq >= nextSeq {
				nextSeq = p.Seq + 1
			}
		}

		for _, url := range manifest.ImageURLs {
			if _, ok := recorded[url]; ok {
				continue
			}
			pic := Pic{DocID: docID, URL: url, Seq: nextSeq}
			if err := tx.Create(&pic).Error; err != nil {
				return fmt.Errorf("storage: insert pic: %w", err)
			}
			recorded[url] = struct{}{}
			nextSeq++
		}

		doc.PageTitle = manifest.Title
		doc.Date = manifest.Date
		doc.PageCount = len(manifest.ImageURLs)
		doc.Status = DocParsed
		if err := tx.Save(&doc).Error; err != nil {
			return fmt.Errorf("storage: update doc: %w", err)
		}
		return nil
	})
}

func (s *Storage) GetPic(id int32) (Pic, error) {
	var p Pic
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		return Pic{}, wrapNotFound(err)
	}
	return p, nil
}

func (s *Storage) GetPicsByDocId(docID int32) ([]Pic, error) {
	var pics []Pic
	if err := s.db.Where("doc_id = ?", docID).Order("seq").Find(&pics).Error; err != nil {
		return nil, fmt.Errorf("storage: get pics by doc: %w", err)
	}
	return pics, nil
}

func (s *Storage) GetPicsByIds(ids []int32) ([]Pic, error) {
	var pics []Pic
	if err := s.db.Where("id IN ?", ids).Find(&pics).Error; err != nil {
		return nil, fmt.Errorf("storage: get pics by ids: %w", err)
	}
	return pics, nil
}

func (s *Storage) UpdatePicHash(id int32, hash string) error {
	if err := s.db.Model(&Pic{}).Where("id = ?", id).Update("hash", hash).Error; err != nil {
		return fmt.Errorf("storage: update pic hash: %w", err)
	}
	return nil
}

func (s *Storage) GetCbzById(id int32) (Cbz, error) {
	var c Cbz
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		return Cbz{}, wrapNotFound(err)
	}
	return c, nil
}

func (s *Storage) GetCbzByPath(path string) (Cbz, bool, error) {
	var c Cbz
	err := s.db.First(&c, "path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Cbz{}, false, nil
	}
	if err != nil {
		return Cbz{}, false, fmt.Errorf("storage: get cbz by path: %w", err)
	}
	return c, true, nil
}

func (s *Storage) CreateCbz(path string) (Cbz, error) {
	c := Cbz{Path: path}
	if err := s.db.Create(&c).Error; err != nil {
		return Cbz{}, fmt.Errorf("storage: create cbz: %w", err)
	}
	return c, nil
}

func (s *Storage) CreateCbzLinked(docID int32, path string) (Cbz, error) {
	id := docID
	c := Cbz{Path: path, DocID: &id}
	if err := s.db.Create(&c).Error; err != nil {
		return Cbz{}, fmt.Errorf("storage: create linked cbz: %w", err)
	}
	return c, nil
}

func (s *Storage) UpdateCbzLink(id int32, docID *int32) error {
	if err := s.db.Model(&Cbz{}).Where("id = ?", id).Update("doc_id", docID).Error; err != nil {
		return fmt.Errorf("storage: update cbz link: %w", err)
	}
	return nil
}

func (s *Storage) DeleteCbz(id int32) error {
	if err := s.db.Delete(&Cbz{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("storage: delete cbz: %w", err)
	}
	return nil
}

func (s *Storage) GetSetting(key string) (string, bool, error) {
	var row AppSetting
	err := s.db.First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get setting: %w", err)
	}
	return row.Value, true, nil
}

func (s *Storage) SetSetting(key, value string) error {
	row := AppSetting{Key: key, Value: value}
	err := s.db.Save(&row).Error
	if err != nil {
		return fmt.Errorf("storage: set setting: %w", err)
	}
	return nil
}

// BumpDailyStat adds to the running totals for date, creating the row if absent.
func (s *Storage) BumpDailyStat(date string, bytesDownloaded, archivesCreated int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var stat DailyStat
		err := tx.First(&stat, "date = ?", date).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stat = DailyStat{Date: date}
		} else if err != nil {
			return fmt.Errorf("storage: load daily stat: %w", err)
		}
		stat.BytesDownloaded += bytesDownloaded
		stat.ArchivesCreated += archivesCreated
		if err := tx.Save(&stat).Error; err != nil {
			return fmt.Errorf("storage: save daily stat: %w", err)
		}
		return nil
	})
}

// ListDailyStats returns the most recent limit rows, newest first.
func (s *Storage) ListDailyStats(limit int) ([]DailyStat, error) {
	var stats []DailyStat
	if err := s.db.Order("date DESC").Limit(limit).Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("storage: list daily stats: %w", err)
	}
	return stats, nil
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("storage: %w", err)
}
