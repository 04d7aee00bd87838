package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"labrag/internal/util"

	"gopkg.in/yaml.v3"
)

// SourcesFile mirrors configs/default.yml.
type SourcesFile struct {
	DataSources struct {
		PapersDir string   `yaml:"papers_dir"`
		MediaURLs []string `yaml:"media_urls"`
	} `yaml:"data_sources"`
	VectorStore struct {
		StorePath string `yaml:"store_path"`
		// Pointers tell an explicit 0 apart from an absent key.
		ChunkSize    *int `yaml:"chunk_size"`
		ChunkOverlap *int `yaml:"chunk_overlap"`
	} `yaml:"vector_store"`
}

// LoadSources reads a data-source file. A missing file is a configuration
// error since a build without sources has nothing to do.
func LoadSources(path string) (SourcesFile, error) {
	var out SourcesFile
	b, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("%w: read sources file %s: %v", util.ErrConfiguration, path, err)
	}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("%w: parse sources file %s: %v", util.ErrConfiguration, path, err)
	}
	if strings.TrimSpace(out.DataSources.PapersDir) == "" {
		out.DataSources.PapersDir = "data/raw/papers"
	}
	urls := make([]string, 0, len(out.DataSources.MediaURLs))
	for _, u := range out.DataSources.MediaURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	out.DataSources.MediaURLs = urls
	return out, nil
}

// Apply overlays vector_store settings from the file onto env defaults.
func (s SourcesFile) Apply(cfg Config) Config {
	if s.VectorStore.StorePath != "" {
		cfg.VectorStorePath = s.VectorStore.StorePath
	}
	if s.VectorStore.ChunkSize != nil {
		cfg.ChunkSize = *s.VectorStore.ChunkSize
	}
	if s.VectorStore.ChunkOverlap != nil {
		cfg.ChunkOverlap = *s.VectorStore.ChunkOverlap
	}
	return cfg
}

// WithSources applies the vector_store section of cfg.SourcesFile. Every
// binary goes through it so builds and chat agree on the store and chunking.
// A missing file leaves cfg as is; an unreadable one is a configuration
// error.
func WithSources(cfg Config) (Config, error) {
	if _, err := os.Stat(cfg.SourcesFile); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	sf, err := LoadSources(cfg.SourcesFile)
	if err != nil {
		return cfg, err
	}
	return sf.Apply(cfg), nil
}
