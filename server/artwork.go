package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"airadio/model"
	"airadio/repository"
	"airadio/storage"
)

// folderArtNames are checked next to a track file, in order, mirroring
// find_missing_art.py's has_folder_art convention.
var folderArtNames = []string{"cover.jpg", "folder.jpg", "front.jpg", "AlbumArtSmall.jpg"}

// resolveFolderArt looks for cover art sitting beside trackPath under
// mediaRoot. trackPath is untrusted request input, so it is cleaned and
// re-joined under mediaRoot rather than trusted as an absolute path,
// keeping a request from escaping the media library.
func resolveFolderArt(mediaRoot, trackPath string) (data []byte, name string, err error) {
	if mediaRoot == "" || trackPath == "" {
		return nil, "", fmt.Errorf("no media root configured")
	}
	clean := filepath.Clean("/" + trackPath)
	full := filepath.Join(mediaRoot, clean)
	if !strings.HasPrefix(full, filepath.Clean(mediaRoot)+string(filepath.Separator)) {
		return nil, "", fmt.Errorf("track path escapes media root")
	}

	dir := filepath.Dir(full)
	for _, name := range folderArtNames {
		candidate := filepath.Join(dir, name)
		if b, err := os.ReadFile(candidate); err == nil {
			return b, name, nil
		}
	}
	return nil, "", fmt.Errorf("no folder art next to %s", trackPath)
}

// fetchAndCacheCover resolves cover art for key/trackPath on demand and
// populates the artwork cache with it, giving PutArtwork and the
// ArtworkJanitor eviction path something to actually exercise instead of
// getCover always falling through to the default cover.
func fetchAndCacheCover(ctx context.Context, store repository.Store, mediaRoot, key, trackPath string) (*model.ArtworkCacheEntry, error) {
	data, name, err := resolveFolderArt(mediaRoot, trackPath)
	if err != nil {
		return nil, err
	}

	objectKey := "artwork/" + strings.ReplaceAll(key, "/", "_") + filepath.Ext(name)
	if _, err := storage.PutBytes(ctx, objectKey, data, contentTypeForPath(name)); err != nil {
		return nil, fmt.Errorf("persist fetched cover: %w", err)
	}

	entry := &model.ArtworkCacheEntry{
		Key:       key,
		SourceURI: trackPath,
		LocalPath: objectKey,
		SizeBytes: int64(len(data)),
		CachedAt:  time.Now(),
		Status:    "ready",
	}
	if err := store.PutArtwork(ctx, entry); err != nil {
		return nil, fmt.Errorf("record cached cover: %w", err)
	}
	return entry, nil
}
