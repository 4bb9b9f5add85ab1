package media

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/lsynpy/nanobot/pkg/logger"
)

const (
	maxImageSize = 15 * 1024 * 1024
	maxTextSize  = 100 * 1024
)

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

var textExts = map[string]bool{
	".txt": true, ".md": true, ".py": true, ".go": true, ".js": true, ".ts": true,
	".json": true, ".csv": true, ".xml": true, ".html": true, ".yaml": true, ".yml": true,
	".toml": true, ".sh": true, ".rs": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".rb": true, ".sql": true, ".ini": true, ".conf": true, ".log": true,
	".diff": true, ".patch": true,
}

// Parts turns the media paths of an inbound message into content parts.
// Unreadable files are logged and skipped.
func Parts(paths []string) []ContentPart {
	parts := make([]ContentPart, 0, len(paths))
	for _, p := range paths {
		part, err := ProcessFile(p)
		if err != nil {
			logger.WarnCF("media", "Skipping attachment", map[string]interface{}{
				"path":  p,
				"error": err.Error(),
			})
			continue
		}
		parts = append(parts, *part)
	}
	return parts
}

// ProcessFile reads one attachment.
func ProcessFile(path string) (*ContentPart, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	name := filepath.Base(path)

	if info.Size() == 0 {
		return textPart(fmt.Sprintf("[Empty file: %s]", name)), nil
	}

	if mimeType, ok := imageTypes[ext]; ok {
		if info.Size() > maxImageSize {
			return textPart(fmt.Sprintf("[Image too large: %s, %.1f MB]", name, float64(info.Size())/(1024*1024))), nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", path, err)
		}
		return &ContentPart{
			Type:      "image",
			MediaType: mimeType,
			Data:      base64.StdEncoding.EncodeToString(data),
			FileName:  name,
		}, nil
	}

	if textExts[ext] || strings.HasPrefix(mime.TypeByExtension(ext), "text/") || sniffText(path) {
		if info.Size() > maxTextSize {
			return textPart(fmt.Sprintf("[File too large to include: %s, %.1f KB]", name, float64(info.Size())/1024)), nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read text %s: %w", path, err)
		}
		part := textPart(fmt.Sprintf("--- %s ---\n%s\n--- end of %s ---", name, data, name))
		part.FileName = name
		return part, nil
	}

	return textPart(fmt.Sprintf("[Unsupported file: %s, %d bytes]", name, info.Size())), nil
}

func textPart(text string) *ContentPart {
	return &ContentPart{Type: "text", Text: text}
}

func sniffText(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if n == 0 {
		return false
	}
	ct := http.DetectContentType(buf[:n])
	return strings.HasPrefix(ct, "text/") || ct == "application/json"
}
