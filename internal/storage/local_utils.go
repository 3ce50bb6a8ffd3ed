package storage

import (
	"path/filepath"
	"strings"
)

func localStorageFullpath(baseDir, key string) string {
	return filepath.Join(baseDir, filepath.FromSlash(key))
}

func joinKey(prefix, name string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
