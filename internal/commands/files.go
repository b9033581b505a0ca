package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/wser/internal/peer"
	"github.com/danmuck/wser/internal/protocol"
	"github.com/dustin/go-humanize"
)

// FileRequest names a file relative to the served root. A bare path
// string is accepted too.
type FileRequest struct {
	Path string `json:"path"`
}

// FileContent is the read_file result. Content marshals as base64.
type FileContent struct {
	Name    string `json:"name"`
	Dir     string `json:"dir"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Content []byte `json:"content"`
}

// ListRequest filters list_files by a slash separated prefix.
type ListRequest struct {
	Prefix string `json:"prefix"`
}

// Files serves read-only access to one directory tree.
type Files struct {
	root     string
	maxBytes int64
}

func NewFiles(root string, maxBytes int64) Files {
	return Files{root: strings.TrimSpace(root), maxBytes: maxBytes}
}

func (f Files) HandleRead(_ context.Context, _ *peer.Peer, req protocol.CommandRequest, _ protocol.Transmission) (any, error) {
	var in FileRequest
	if err := decodeFlexible(req.Payload, &in, &in.Path); err != nil {
		return nil, err
	}
	return f.Read(in.Path)
}

func (f Files) HandleList(_ context.Context, _ *peer.Peer, req protocol.CommandRequest, _ protocol.Transmission) (any, error) {
	var in ListRequest
	trimmed := strings.TrimSpace(string(req.Payload))
	if trimmed != "" && trimmed != "null" && trimmed != `""` {
		if err := decodeFlexible(req.Payload, &in, &in.Prefix); err != nil {
			return nil, err
		}
	}
	return f.List(in.Prefix)
}

// Read loads one file under the root.
func (f Files) Read(rel string) (FileContent, error) {
	p, err := f.resolvePath(rel)
	if err != nil {
		return FileContent{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return FileContent{}, err
	}
	if info.IsDir() {
		return FileContent{}, fmt.Errorf("commands: %s is a directory", rel)
	}
	if f.maxBytes > 0 && info.Size() > f.maxBytes {
		return FileContent{}, fmt.Errorf("%w: %s exceeds %s",
			ErrFileTooLarge, humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(f.maxBytes)))
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return FileContent{}, err
	}
	return FileContent{
		Name:    filepath.Base(p),
		Dir:     filepath.Dir(p),
		Path:    p,
		Size:    int64(len(data)),
		Content: data,
	}, nil
}

// List returns the sorted relative paths of regular files under the root.
func (f Files) List(prefix string) ([]string, error) {
	if f.root == "" {
		return nil, ErrFilesDisabled
	}
	root, err := filepath.Abs(f.root)
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	keys := make([]string, 0)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (f Files) resolvePath(pathArg string) (string, error) {
	if f.root == "" {
		return "", ErrFilesDisabled
	}
	rel := strings.TrimSpace(pathArg)
	if rel == "" {
		return "", ErrPathRequired
	}
	if filepath.IsAbs(rel) {
		return "", ErrAbsolutePath
	}
	root, err := filepath.Abs(f.root)
	if err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(root, rel))
	if !isWithin(p, root) {
		return "", ErrPathEscapes
	}
	return p, nil
}

func isWithin(path string, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}
