package index

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// FileRecord is one retained file and its digest.
type FileRecord struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// DigestFile returns the hex BLAKE2b-256 digest of the file at path.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestTree digests every regular file under root. Paths are relative to
// root, slash-separated, in lexical order. A missing root yields no records.
func DigestTree(root string) ([]FileRecord, error) {
	var records []FileRecord
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		digest, err := DigestFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		records = append(records, FileRecord{Path: filepath.ToSlash(rel), Size: info.Size(), Digest: digest})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("digesting %s: %w", root, err)
	}
	return records, nil
}

func joinVersions(v []string) string {
	return strings.Join(v, ",")
}
