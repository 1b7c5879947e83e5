package classify

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// TypeInfo is the registry entry for a file extension.
type TypeInfo struct {
	ContentType string `yaml:"content_type"`
	Category    string `yaml:"category"`
	Icon        string `yaml:"icon"`
}

// Registry maps file extensions to content type metadata. The built-in
// table covers the common formats; operators extend it with a YAML file.
type Registry struct {
	byExt map[string]TypeInfo
	mu    sync.RWMutex
}

var builtinTypes = map[string]TypeInfo{
	"jpg":  {ContentType: "image", Category: "images", Icon: "🖼"},
	"jpeg": {ContentType: "image", Category: "images", Icon: "🖼"},
	"png":  {ContentType: "image", Category: "images", Icon: "🖼"},
	"gif":  {ContentType: "image", Category: "images", Icon: "🖼"},
	"webp": {ContentType: "image", Category: "images", Icon: "🖼"},
	"bmp":  {ContentType: "image", Category: "images", Icon: "🖼"},
	"svg":  {ContentType: "image", Category: "images", Icon: "🖼"},

	"mp4":  {ContentType: "video", Category: "videos", Icon: "🎬"},
	"mkv":  {ContentType: "video", Category: "videos", Icon: "🎬"},
	"avi":  {ContentType: "video", Category: "videos", Icon: "🎬"},
	"mov":  {ContentType: "video", Category: "videos", Icon: "🎬"},
	"webm": {ContentType: "video", Category: "videos", Icon: "🎬"},

	"mp3":  {ContentType: "audio", Category: "audio", Icon: "🎵"},
	"flac": {ContentType: "audio", Category: "audio", Icon: "🎵"},
	"ogg":  {ContentType: "audio", Category: "audio", Icon: "🎵"},
	"wav":  {ContentType: "audio", Category: "audio", Icon: "🎵"},
	"m4a":  {ContentType: "audio", Category: "audio", Icon: "🎵"},

	"pdf":  {ContentType: "document", Category: "documents", Icon: "📄"},
	"doc":  {ContentType: "document", Category: "documents", Icon: "📄"},
	"docx": {ContentType: "document", Category: "documents", Icon: "📄"},
	"xls":  {ContentType: "document", Category: "documents", Icon: "📄"},
	"xlsx": {ContentType: "document", Category: "documents", Icon: "📄"},
	"ppt":  {ContentType: "document", Category: "documents", Icon: "📄"},
	"pptx": {ContentType: "document", Category: "documents", Icon: "📄"},
	"epub": {ContentType: "document", Category: "documents", Icon: "📄"},
	"djvu": {ContentType: "document", Category: "documents", Icon: "📄"},

	"txt": {ContentType: "text", Category: "text", Icon: "📝"},
	"md":  {ContentType: "text", Category: "text", Icon: "📝"},
	"csv": {ContentType: "text", Category: "text", Icon: "📝"},

	"zip": {ContentType: "archive", Category: "archives", Icon: "📦"},
	"rar": {ContentType: "archive", Category: "archives", Icon: "📦"},
	"7z":  {ContentType: "archive", Category: "archives", Icon: "📦"},
	"tar": {ContentType: "archive", Category: "archives", Icon: "📦"},
	"gz":  {ContentType: "archive", Category: "archives", Icon: "📦"},
	"xz":  {ContentType: "archive", Category: "archives", Icon: "📦"},

	"go":   {ContentType: "code", Category: "code", Icon: "💻"},
	"py":   {ContentType: "code", Category: "code", Icon: "💻"},
	"js":   {ContentType: "code", Category: "code", Icon: "💻"},
	"json": {ContentType: "code", Category: "code", Icon: "💻"},
	"sql":  {ContentType: "code", Category: "code", Icon: "💻"},
}

func NewRegistry() *Registry {
	byExt := make(map[string]TypeInfo, len(builtinTypes))
	for ext, info := range builtinTypes {
		byExt[ext] = info
	}
	return &Registry{byExt: byExt}
}

// Lookup resolves an extension (without the leading dot) to its type info.
func (r *Registry) Lookup(ext string) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return info, ok
}

// Extend adds or overrides registry entries.
func (r *Registry) Extend(types map[string]TypeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ext, info := range types {
		r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = info
	}
}

// LoadFile extends the registry from a YAML file mapping extensions to
// type info. Missing file is not an error.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read content types file: %w", err)
	}

	var types map[string]TypeInfo
	if err := yaml.Unmarshal(data, &types); err != nil {
		return fmt.Errorf("failed to parse content types file: %w", err)
	}

	r.Extend(types)
	return nil
}
