package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/yawon3/pocali-backend/internal/card"
	"github.com/yawon3/pocali-backend/internal/catalog"
)

// writeFile creates root/rel with the given content, creating parent folders.
func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write %q: %v", rel, err)
	}
}

func sortedNames(entries []card.Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.SourceCategory+"|"+e.Name+"|"+e.URL)
	}
	sort.Strings(out)
	return out
}

func TestBackend_EmptyDir(t *testing.T) {
	b, err := New(t.TempDir(), "/static/images")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	entries, err := b.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestBackend_CreatesMissingRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "images")
	if _, err := New(dir, "/static/images"); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("root directory not created: %v", err)
	}
}

func TestBackend_ListWalksSubfolders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "IVE_AN_PC_1.jpg", "x")
	writeFile(t, dir, "album/IVE_WON_PC_2.png", "x")
	writeFile(t, dir, "album/deep/IVE_GA_PC_3.GIF", "x")
	writeFile(t, dir, "album/readme.txt", "x")
	writeFile(t, dir, ".hidden/IVE_REI_PC_4.jpg", "x")
	writeFile(t, dir, "album/.upload-123.tmp", "x")

	b, _ := New(dir, "/static/images/")
	entries, err := b.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	got := sortedNames(entries)
	want := []string{
		"album/deep|IVE_GA_PC_3.GIF|/static/images/album/deep/IVE_GA_PC_3.GIF",
		"album|IVE_WON_PC_2.png|/static/images/album/IVE_WON_PC_2.png",
		"|IVE_AN_PC_1.jpg|/static/images/IVE_AN_PC_1.jpg",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("entries:\ngot  %v\nwant %v", got, want)
	}
}

func TestBackend_URLEscaping(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "photo cards/A B_C_D_1.jpg", "x")

	b, _ := New(dir, "/static/images")
	entries, _ := b.List(context.Background())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].URL != "/static/images/photo%20cards/A%20B_C_D_1.jpg" {
		t.Errorf("URL: got %q", entries[0].URL)
	}
}

func TestBackend_ListCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "IVE_AN_PC_1.jpg", "x")
	b, _ := New(dir, "/static/images")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.List(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackend_Put(t *testing.T) {
	dir := t.TempDir()
	b, _ := New(dir, "/static/images")

	entry, err := b.Put(context.Background(), "album", "IVE_AN_PC_7.jpg", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if entry.SourceCategory != "album" || entry.URL != "/static/images/album/IVE_AN_PC_7.jpg" {
		t.Errorf("entry: %+v", entry)
	}
	data, err := os.ReadFile(filepath.Join(dir, "album", "IVE_AN_PC_7.jpg"))
	if err != nil || string(data) != "data" {
		t.Errorf("stored file: %q, %v", data, err)
	}

	// No temp files are left behind.
	leftovers, _ := filepath.Glob(filepath.Join(dir, "album", ".upload-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}

	entries, _ := b.List(context.Background())
	if len(entries) != 1 || entries[0] != entry {
		t.Errorf("List after Put: %+v", entries)
	}
}

func TestBackend_PutRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "IVE_AN_PC_1.jpg", "original")
	b, _ := New(dir, "/static/images")

	_, err := b.Put(context.Background(), "", "IVE_AN_PC_1.jpg", strings.NewReader("new"))
	if !errors.Is(err, catalog.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "IVE_AN_PC_1.jpg"))
	if string(data) != "original" {
		t.Errorf("file was overwritten: %q", data)
	}
}

func TestBackend_PutRejectsEscapingFolder(t *testing.T) {
	b, _ := New(t.TempDir(), "/static/images")
	_, err := b.Put(context.Background(), "../outside", "a_b_c_1.jpg", strings.NewReader("x"))
	if !errors.Is(err, catalog.ErrInvalidFile) {
		t.Errorf("expected ErrInvalidFile, got %v", err)
	}
}

func TestBackend_PutStripsDirectories(t *testing.T) {
	dir := t.TempDir()
	b, _ := New(dir, "/static/images")
	entry, err := b.Put(context.Background(), "", "../../evil_a_b_1.jpg", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if entry.Name != "evil_a_b_1.jpg" {
		t.Errorf("name: got %q", entry.Name)
	}
	if _, err := os.Stat(filepath.Join(dir, "evil_a_b_1.jpg")); err != nil {
		t.Errorf("file not stored inside root: %v", err)
	}
}

func TestBackend_FileSystemServesImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "album/IVE_AN_PC_1.jpg", "jpegdata")
	b, _ := New(dir, "/static/images")

	f, err := b.FileSystem().Open("/album/IVE_AN_PC_1.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "jpegdata" {
		t.Errorf("content: got %q", data)
	}
}

func TestBackend_WithCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pc/IVE_AN_PC_000003.jpg", "x")
	writeFile(t, dir, "IVE_WON_PC_LD_A_000009.png", "x")
	writeFile(t, dir, "bad.jpg", "x")

	b, _ := New(dir, "/static/images")
	c := catalog.New(b, card.NewParser(card.DefaultTable()), catalog.Options{})

	images, err := c.Images(context.Background())
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %+v", images)
	}
	if images[0].UniqueID != "000009" || images[0].Title != "LOVE DIVE" || images[0].Version != "A" {
		t.Errorf("first: %+v", images[0])
	}
	if images[1].SourceCategory != "pc" || images[1].URL != "/static/images/pc/IVE_AN_PC_000003.jpg" {
		t.Errorf("second: %+v", images[1])
	}

	entry, err := c.Upload(context.Background(), catalog.UploadRequest{
		CustomName:       "IVE_LIZ_PC_",
		SubCategory:      "pc",
		OriginalFilename: "upload.png",
		Body:             strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if entry.Name != "IVE_LIZ_PC_10.png" {
		t.Errorf("uploaded name: got %q, want IVE_LIZ_PC_10.png", entry.Name)
	}
}
