package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Format is a schema file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported schema file: %s", path)
	}
}

// File is the on-disk form of a Schema.
type File struct {
	Executable  string              `yaml:"executable" toml:"executable" json:"executable"`
	WorkingDir  string              `yaml:"workingDir" toml:"workingDir" json:"workingDir"`
	Args        []string            `yaml:"args" toml:"args" json:"args"`
	Env         map[string]string   `yaml:"env" toml:"env" json:"env"`
	Properties  map[string]string   `yaml:"properties" toml:"properties" json:"properties"`
	RedirectErr bool                `yaml:"redirectErr" toml:"redirectErr" json:"redirectErr"`
	InheritEnv  *bool               `yaml:"inheritEnv" toml:"inheritEnv" json:"inheritEnv"`
	Diagnostics bool                `yaml:"diagnostics" toml:"diagnostics" json:"diagnostics"`
	Timeout     string              `yaml:"timeout" toml:"timeout" json:"timeout"`
	SearchPaths map[string][]string `yaml:"searchPaths" toml:"searchPaths" json:"searchPaths"`
}

// LoadFile reads a schema file. A relative working directory is taken
// relative to the file.
func LoadFile(path string) (*Schema, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	f, err := decodeFile(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.WorkingDir != "" && !filepath.IsAbs(f.WorkingDir) {
		f.WorkingDir = filepath.Join(filepath.Dir(path), f.WorkingDir)
	}
	s, err := f.Schema()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode builds a schema from data in the given format.
func Decode(data []byte, format Format) (*Schema, error) {
	f, err := decodeFile(data, format)
	if err != nil {
		return nil, err
	}
	return f.Schema()
}

func decodeFile(data []byte, format Format) (File, error) {
	var f File
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &f)
	case FormatTOML:
		err = toml.Unmarshal(data, &f)
	case FormatJSON:
		err = sonic.Unmarshal(data, &f)
	default:
		return File{}, fmt.Errorf("unsupported schema format %q", format)
	}
	if err != nil {
		return File{}, fmt.Errorf("decode %s schema: %w", format, err)
	}
	return f, nil
}

// Schema converts the file into a Schema. Maps are applied in key order.
func (f File) Schema() (*Schema, error) {
	if f.Executable == "" {
		return nil, ErrNoExecutable
	}

	s := New(f.Executable).
		SetWorkingDirectory(f.WorkingDir).
		SetArguments(f.Args...).
		SetErrorStreamRedirected(f.RedirectErr).
		SetDiagnosticsEnabled(f.Diagnostics)

	if f.InheritEnv != nil {
		s.SetEnvironmentInherited(*f.InheritEnv)
	}
	for _, k := range sortedKeys(f.Env) {
		s.SetEnvironmentVariable(k, f.Env[k])
	}
	for _, k := range sortedKeys(f.Properties) {
		s.SetSystemProperty(k, f.Properties[k])
	}
	for _, k := range sortedKeys(f.SearchPaths) {
		s.AddSearchPath(k, f.SearchPaths[k]...)
	}
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", f.Timeout, err)
		}
		s.SetDefaultTimeout(d)
	}
	return s, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
