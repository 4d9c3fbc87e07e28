package apps

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"

	"github.com/nimbusos/shell/internal/shared/types"
)

// PackageMetadata is the installable app descriptor, written into the
// package both at the top level and as the <id>.app file.
type PackageMetadata struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Icon        string              `json:"icon"`
	Description string              `json:"description"`
	Keywords    []string            `json:"keywords,omitempty"`
	Author      string              `json:"author,omitempty"`
	Version     string              `json:"version,omitempty"`
	Type        string              `json:"type"`
	Settings    []types.SettingSpec `json:"settings,omitempty"`
}

// Package is the installable bundle consumed by the backend's
// user-apps install endpoint: a descriptor plus base64-encoded files.
type Package struct {
	AppMetadata PackageMetadata   `json:"app_metadata"`
	Files       map[string]string `json:"files"`
}

// BuildPackage bundles a loaded dev app into an installable package
// carrying <id>.app (the descriptor) and <id>.html (the packed body).
func BuildPackage(app *DevApp) (*Package, error) {
	meta := PackageMetadata{
		ID:          app.Manifest.ID,
		Name:        app.Manifest.Name,
		Icon:        app.Manifest.Icon,
		Description: app.Manifest.Description,
		Keywords:    app.Manifest.Keywords,
		Author:      app.Author,
		Version:     app.Manifest.Version,
		Type:        string(types.TypeUserApp),
		Settings:    app.Settings,
	}

	metaJSON, err := sonic.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata for %s: %w", meta.ID, err)
	}

	return &Package{
		AppMetadata: meta,
		Files: map[string]string{
			meta.ID + ".app":  base64.StdEncoding.EncodeToString(metaJSON),
			meta.ID + ".html": base64.StdEncoding.EncodeToString([]byte(app.HTML)),
		},
	}, nil
}

// Encode serializes the package as JSON, gzip-compressed on request.
func (p *Package) Encode(compress bool) ([]byte, error) {
	data, err := sonic.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode package %s: %w", p.AppMetadata.ID, err)
	}
	if !compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress package %s: %w", p.AppMetadata.ID, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress package %s: %w", p.AppMetadata.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodePackage parses a plain or gzip-compressed package and checks
// the structure an installer depends on.
func DecodePackage(data []byte) (*Package, error) {
	if len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress package: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("decompress package: %w", err)
		}
	}

	var pkg Package
	if err := sonic.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse package: %w", err)
	}

	id := pkg.AppMetadata.ID
	if id == "" {
		return nil, fmt.Errorf("invalid package: missing app id")
	}
	for _, required := range []string{id + ".app", id + ".html"} {
		if pkg.Files[required] == "" {
			return nil, fmt.Errorf("invalid package %s: missing %s", id, required)
		}
	}
	return &pkg, nil
}

// HTML decodes the packed app body from the package files.
func (p *Package) HTML() (string, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Files[p.AppMetadata.ID+".html"])
	if err != nil {
		return "", fmt.Errorf("decode %s.html: %w", p.AppMetadata.ID, err)
	}
	return string(raw), nil
}
