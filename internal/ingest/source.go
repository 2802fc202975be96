package ingest

import (
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
	"github.com/chongs12/contextual-kb/pkg/utils"
)

var allowedSourceTypes = []string{"txt", "md"}

// LoadSource 读取单个纯文本来源，非 txt/md 或非 UTF-8 内容一律拒绝
func LoadSource(path string) (string, error) {
	ext := utils.GetFileExtension(path)
	if !utils.Contains(allowedSourceTypes, ext) {
		return "", apperr.New(apperr.KindSource, "unsupported source type %q for %s, allowed: %v", ext, path, allowedSourceTypes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.New(apperr.KindSource, "read %s: %v", path, err)
	}
	if !utf8.Valid(data) {
		return "", apperr.New(apperr.KindSource, "%s is not valid UTF-8", path)
	}
	return string(data), nil
}

// ListSources 递归枚举目录下的 txt/md 文件，返回排序稳定的相对路径
func ListSources(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if utils.Contains(allowedSourceTypes, utils.GetFileExtension(path)) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.KindSource, "walk %s: %v", root, err)
	}
	return paths, nil
}
