package sdkplay

import (
	"bytes"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// File is an operator-supplied file handle, the value a file-kind parameter
// coerces to. It satisfies io.Reader over a private cursor per Reader call.
type File struct {
	name        string
	contentType string
	data        []byte
}

// NewFile returns a File. An empty contentType is detected from data.
func NewFile(name, contentType string, data []byte) *File {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return &File{name: name, contentType: contentType, data: data}
}

// Name returns the original file name.
func (f *File) Name() string { return f.name }

// ContentType returns the MIME type.
func (f *File) ContentType() string { return f.contentType }

// Size returns the size in bytes.
func (f *File) Size() int64 { return int64(len(f.data)) }

// Bytes returns the file content. Callers must not modify it.
func (f *File) Bytes() []byte { return f.data }

// Reader returns a fresh reader over the content.
func (f *File) Reader() io.Reader { return bytes.NewReader(f.data) }

// FileInfo is the JSON view of a stored file.
type FileInfo struct {
	Ref         string `json:"ref"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// FileStore holds file handles by reference name, standing in for file input
// elements the operator has filled.
type FileStore struct {
	mu    sync.RWMutex
	files map[string]*File
}

// NewFileStore returns an empty store.
func NewFileStore() *FileStore {
	return &FileStore{files: make(map[string]*File)}
}

// Put registers f under ref, replacing any previous file.
func (s *FileStore) Put(ref string, f *File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[ref] = f
}

// Get returns the file registered under ref.
func (s *FileStore) Get(ref string) (*File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[ref]
	return f, ok
}

// Remove drops the file registered under ref.
func (s *FileStore) Remove(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, ref)
}

// List returns the stored files sorted by reference.
func (s *FileStore) List() []FileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FileInfo, 0, len(s.files))
	for _, ref := range slices.Sorted(maps.Keys(s.files)) {
		f := s.files[ref]
		out = append(out, FileInfo{Ref: ref, Name: f.name, ContentType: f.contentType, Size: f.Size()})
	}
	return out
}
