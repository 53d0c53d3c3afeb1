package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveFolderArtFindsSiblingFile(t *testing.T) {
	root := t.TempDir()
	albumDir := filepath.Join(root, "Artist", "Album")
	if err := os.MkdirAll(albumDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(albumDir, "folder.jpg"), []byte("jpegbytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(albumDir, "track.mp3"), []byte("id3"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, name, err := resolveFolderArt(root, "/Artist/Album/track.mp3")
	if err != nil {
		t.Fatalf("expected folder art, got error %v", err)
	}
	if name != "folder.jpg" {
		t.Fatalf("expected folder.jpg, got %q", name)
	}
	if string(data) != "jpegbytes" {
		t.Fatalf("unexpected art bytes %q", data)
	}
}

func TestResolveFolderArtMissing(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Artist", "Album"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, _, err := resolveFolderArt(root, "/Artist/Album/track.mp3"); err == nil {
		t.Fatal("expected an error when no folder art exists")
	}
}

func TestResolveFolderArtRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	if _, _, err := resolveFolderArt(root, "../../etc/passwd"); err == nil {
		t.Fatal("expected escaping paths to be rejected")
	}
}

func TestResolveFolderArtNoMediaRoot(t *testing.T) {
	if _, _, err := resolveFolderArt("", "/Artist/Album/track.mp3"); err == nil {
		t.Fatal("expected an error when no media root is configured")
	}
}
