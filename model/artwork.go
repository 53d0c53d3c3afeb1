package model

import "time"

// ArtworkCacheEntry is an LRU-managed cache row pointing at locally (or
// object-storage) cached cover art for an (artist, album) pair or a raw
// file reference.
type ArtworkCacheEntry struct {
	Key        string    `gorm:"column:cache_key;primaryKey" json:"key"`
	Artist     string    `gorm:"column:artist" json:"artist"`
	Album      string    `gorm:"column:album" json:"album"`
	SourceURI  string    `gorm:"column:source_uri" json:"sourceUri,omitempty"`
	LocalPath  string    `gorm:"column:local_path" json:"localPath"`
	SizeBytes  int64     `gorm:"column:size_bytes" json:"sizeBytes"`
	CachedAt   time.Time `gorm:"column:cached_at" json:"cachedAt"`
	LastUsedAt time.Time `gorm:"column:last_used_at;index" json:"lastUsedAt"`
	Status     string    `gorm:"column:status" json:"status"`
}

func (ArtworkCacheEntry) TableName() string { return "artwork_cache" }

// ArtworkKey fingerprints an (artist, album) pair or a bare file path into
// the cache key used by PutArtwork/GetArtwork/TouchArtwork.
func ArtworkKey(artistOrPath, album string) string {
	if album == "" {
		return "path:" + artistOrPath
	}
	return "aa:" + artistOrPath + "|" + album
}
