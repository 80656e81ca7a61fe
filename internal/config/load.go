package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.json
var defaultsJSON []byte

// MaxFileSize caps config files read from disk.
const MaxFileSize = 1 * 1024 * 1024 // 1MB

// Format selects the decoder used by Parse.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DefaultFile returns a fresh copy of the embedded defaults.
func DefaultFile() File {
	var f File
	if err := json.Unmarshal(defaultsJSON, &f); err != nil {
		panic("config: embedded defaults are malformed: " + err.Error())
	}
	return f
}

// Defaults returns the validated default configuration.
func Defaults() Config {
	f := DefaultFile()
	c, err := f.Resolve()
	if err != nil {
		panic("config: embedded defaults are invalid: " + err.Error())
	}
	return c
}

// FormatFromPath picks a decoder from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}
}

// Parse decodes data onto the defaults and validates the result. Keys that
// are absent from data keep their default values.
func Parse(data []byte, format Format) (Config, error) {
	f := DefaultFile()
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}
	c, err := f.Resolve()
	if err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// LoadFile reads a JSON or YAML config file. Fields omitted from the file
// retain their default values, so partial configs are safe.
func LoadFile(path string) (Config, error) {
	cleanPath := filepath.Clean(path)
	format, err := FormatFromPath(cleanPath)
	if err != nil {
		return Config{}, err
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return Config{}, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, format)
}
