package fileingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"adforge/internal/models"

	"github.com/gabriel-vasile/mimetype"
)

// FileMeta holds metadata about a file to be ingested.
type FileMeta struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
	".heic": true,
	".heif": true,
}

// IsImageName reports whether name has a known image extension.
func IsImageName(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

/*
DiscoverImageFiles recursively finds image files under rootDir.

Hidden files and directories are skipped. Results are sorted by path so the
order of reference images is stable between runs.
*/
func DiscoverImageFiles(ctx context.Context, rootDir string) ([]FileMeta, error) {
	var files []FileMeta
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != rootDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsImageName(d.Name()) {
			return nil
		}
		meta, metaErr := ExtractFileMeta(path)
		if metaErr != nil {
			// Skip files we can't stat, but continue
			return nil
		}
		files = append(files, meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

/*
ExtractFileMeta extracts metadata from a given file path.

Returns FileMeta with Name, Path, Size, and ModTime.
*/
func ExtractFileMeta(path string) (FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// LoadImages reads the given files and directories into reference images.
// Directories are expanded with DiscoverImageFiles; explicit files are read
// regardless of extension so intake validation can reject them by content.
func LoadImages(ctx context.Context, paths []string) ([]models.ReferenceImage, error) {
	var metas []FileMeta
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("reference image %s: %w", p, err)
		}
		if info.IsDir() {
			found, err := DiscoverImageFiles(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("scan %s: %w", p, err)
			}
			metas = append(metas, found...)
			continue
		}
		metas = append(metas, FileMeta{Path: p, Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}

	images := make([]models.ReferenceImage, 0, len(metas))
	for _, m := range metas {
		data, err := os.ReadFile(m.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", m.Path, err)
		}
		images = append(images, models.ReferenceImage{
			Name:     m.Name,
			MIMEType: mimetype.Detect(data).String(),
			Data:     data,
		})
	}
	return images, nil
}
