package storage

// Doc status encoding: 0=Unparsed, 1=Parsed, 2=Downloaded, 3=Archived.
const (
	DocUnparsed   = 0
	DocParsed     = 1
	DocDownloaded = 2
	DocArchived   = 3
)

// Doc is a source album page to be parsed into images and archived.
type Doc struct {
	ID        int32  `gorm:"primaryKey;autoIncrement" json:"id"`
	URL       string `gorm:"uniqueIndex" json:"url"`
	Title     string `json:"title"`      // curated title used for archive naming; ApplyManifest does not set it
	PageTitle string `json:"page_title"` // human title scraped from the page <h1>, distinct from Title
	Writer    string `json:"writer"`
	Date      string `json:"date"` // ISO-8601, optional
	PageCount int    `json:"page_count"`
	Status    int    `gorm:"index" json:"status"`
}

// TableName specifies the table name for Doc.
func (Doc) TableName() string {
	return "docs"
}

// Pic is one image belonging to a Doc, identified by ascending sequence.
type Pic struct {
	ID    int32  `gorm:"primaryKey;autoIncrement" json:"id"`
	DocID int32  `gorm:"index" json:"doc_id"`
	URL   string `json:"url"`
	Seq   int    `gorm:"index" json:"seq"`
	Hash  string `json:"hash"` // sha256, populated only when integrity checks are enabled
}

// TableName specifies the table name for Pic.
func (Pic) TableName() string {
	return "pics"
}

// Cbz is a packaged archive file on disk, optionally linked to a Doc.
type Cbz struct {
	ID    int32  `gorm:"primaryKey;autoIncrement" json:"id"`
	Path  string `gorm:"uniqueIndex" json:"path"`
	DocID *int32 `json:"doc_id"`
}

// TableName specifies the table name for Cbz.
func (Cbz) TableName() string {
	return "cbzs"
}

// AppSetting stores key-value runtime settings an operator can flip without
// a restart.
type AppSetting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// TableName specifies the table name for AppSetting.
func (AppSetting) TableName() string {
	return "app_settings"
}

// DailyStat tracks daily ingestion totals: bytes downloaded and archives
// created, keyed by date.
type DailyStat struct {
	Date            string `gorm:"primaryKey"` // "YYYY-MM-DD"
	BytesDownloaded int64  `gorm:"default:0"`
	ArchivesCreated int64  `gorm:"default:0"`
}

// TableName specifies the table name for DailyStat.
func (DailyStat) TableName() string {
	return "daily_stats"
}
