// Package files fetches attachments and stores them for the CLI.
package files

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
)

const defaultMaxBytes = 50 * 1024 * 1024

var ErrUnsupportedURI = errors.New("unsupported file uri, expected data: or http(s)")

// File is fetched attachment content.
type File struct {
	Data        []byte
	ContentType string
	Filename    string
}

var extensions = map[string]string{
	"image/png":        "png",
	"image/jpeg":       "jpg",
	"image/jpg":        "jpg",
	"image/gif":        "gif",
	"image/webp":       "webp",
	"image/avif":       "avif",
	"text/plain":       "txt",
	"application/pdf":  "pdf",
	"application/json": "json",
	"text/csv":         "csv",
}

// ExtensionFor maps a media type to a file extension without the dot.
func ExtensionFor(contentType string) string {
	if ext, ok := extensions[strings.ToLower(contentType)]; ok {
		return ext
	}
	return "bin"
}

// Fetcher resolves data URIs and http(s) URLs.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	now      func() time.Time
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{client: client, maxBytes: defaultMaxBytes, now: time.Now}
}

func (f *Fetcher) Fetch(ctx context.Context, uri string) (*File, error) {
	switch {
	case strings.HasPrefix(uri, "data:"):
		return decodeDataURI(uri, f.now())
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return f.download(ctx, uri)
	default:
		return nil, ErrUnsupportedURI
	}
}

func decodeDataURI(uri string, now time.Time) (*File, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data uri")
	}
	contentType, _, _ := strings.Cut(header, ";")
	if contentType == "" {
		contentType = "text/plain"
	}

	var data []byte
	var err error
	if strings.HasSuffix(header, ";base64") {
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}

	return &File{
		Data:        data,
		ContentType: contentType,
		Filename:    fmt.Sprintf("file_%d.%s", now.UnixMilli(), ExtensionFor(contentType)),
	}, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: larger than %d bytes", rawURL, f.maxBytes)
	}

	contentType := "application/octet-stream"
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		contentType = mt
	}

	return &File{Data: data, ContentType: contentType, Filename: filenameFromURL(rawURL)}, nil
}

func filenameFromURL(rawURL string) string {
	name := "download"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
			name = base
		}
	}
	if !strings.Contains(name, ".") {
		name += ".bin"
	}
	return name
}

// SafeName strips directories from a client supplied file name. It returns
// "" when nothing usable is left.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." || strings.ContainsRune(name, 0) {
		return ""
	}
	return name
}

// Save writes data into dir under name and returns the absolute path.
func Save(dir, name string, data []byte) (string, error) {
	target, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("save attachment %s: %w", name, err)
	}
	return target, nil
}

// ResolvePaths makes relative paths absolute against dir.
func ResolvePaths(dir string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		out = append(out, p)
	}
	return out
}

// PrefixPrompt lists attachment paths ahead of the prompt.
func PrefixPrompt(prompt string, paths []string) string {
	if len(paths) == 0 {
		return prompt
	}
	return "Files: " + strings.Join(paths, " ") + "\n\n" + prompt
}

// DetectExtension sniffs data and returns an extension with its dot,
// ".txt" when the type is unknown.
func DetectExtension(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || kind.Extension == "" {
		return ".txt"
	}
	return "." + kind.Extension
}
