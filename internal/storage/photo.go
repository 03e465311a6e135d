// Package storage decodes submitted photos and keeps them in a file store.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrInvalidPhoto is returned for any payload that is not an allowed embedded image.
var ErrInvalidPhoto = errors.New("invalid photo")

// AllowedExtensions are the image encodings accepted for request and deployment photos.
var AllowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// Photo is a decoded data URL.
type Photo struct {
	Data []byte
	Ext  string
}

func (p *Photo) ContentType() string {
	return contentType(p.Ext)
}

// ContentTypeFor maps a stored file name to the type it is served with.
func ContentTypeFor(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "application/octet-stream"
	}
	return contentType(strings.ToLower(name[i+1:]))
}

func contentType(ext string) string {
	if ext == "png" {
		return "image/png"
	}
	return "image/jpeg"
}

// DecodeDataURL parses "data:image/<ext>;base64,<payload>" and checks the
// decoded bytes are really a png or jpeg matching <ext>.
// maxBytes <= 0 disables the size check.
func DecodeDataURL(dataURL string, maxBytes int64) (*Photo, error) {
	dataURL = strings.TrimSpace(dataURL)
	if dataURL == "" {
		return nil, fmt.Errorf("%w: no photo data", ErrInvalidPhoto)
	}
	if !strings.HasPrefix(dataURL, "data:image") {
		return nil, fmt.Errorf("%w: not an image data URL", ErrInvalidPhoto)
	}

	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || payload == "" {
		return nil, fmt.Errorf("%w: missing image payload", ErrInvalidPhoto)
	}

	// header looks like data:image/png;base64
	mediaType := strings.TrimPrefix(header, "data:")
	mediaType, params, _ := strings.Cut(mediaType, ";")
	if params != "base64" {
		return nil, fmt.Errorf("%w: payload must be base64 encoded", ErrInvalidPhoto)
	}
	_, ext, ok := strings.Cut(mediaType, "/")
	ext = strings.ToLower(ext)
	if !ok || !AllowedExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported image type %q (allowed: png, jpg, jpeg)", ErrInvalidPhoto, ext)
	}

	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidPhoto, maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 payload", ErrInvalidPhoto)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidPhoto)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidPhoto, maxBytes)
	}

	// the declared type must agree with what the bytes actually are
	detected := mimetype.Detect(data)
	if !detected.Is(contentType(ext)) {
		return nil, fmt.Errorf("%w: payload is %s, not %s", ErrInvalidPhoto, detected.String(), contentType(ext))
	}

	return &Photo{Data: data, Ext: ext}, nil
}

// Photos stores decoded photos under collision free names.
type Photos struct {
	store    Store
	maxBytes int64
}

func NewPhotos(store Store, maxBytes int64) *Photos {
	return &Photos{store: store, maxBytes: maxBytes}
}

func (p *Photos) Decode(dataURL string) (*Photo, error) {
	return DecodeDataURL(dataURL, p.maxBytes)
}

// Save writes the photo and returns its stored name.
func (p *Photos) Save(ctx context.Context, photo *Photo) (string, error) {
	name := uuid.NewString() + "." + photo.Ext
	if err := p.store.Put(ctx, name, photo.Data, photo.ContentType()); err != nil {
		return "", fmt.Errorf("failed to store photo: %w", err)
	}
	return name, nil
}

// Remove deletes stored photos, ignoring empty names. It returns the first error.
func (p *Photos) Remove(ctx context.Context, names ...string) error {
	var firstErr error
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := p.store.Delete(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Photos) Store() Store {
	return p.store
}
