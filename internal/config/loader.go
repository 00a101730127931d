package config

import (
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/nao1215/sitemirror/internal/uri"
	"gopkg.in/yaml.v3"
)

// DefaultSiteFile is the site configuration file name.
const DefaultSiteFile = "sitemirror.yaml"

//go:embed templates/sitemirror.yaml
var templates embed.FS

// Template returns the annotated default site configuration written by
// "sitemirror init".
func Template() []byte {
	data, err := templates.ReadFile("templates/" + DefaultSiteFile)
	if err != nil {
		panic(fmt.Sprintf("embedded template missing: %v", err))
	}
	return data
}

// Default returns the built-in site configuration.
func Default() (*Site, error) {
	return ParseSite(Template())
}

// ParseSite decodes and validates a YAML site configuration.
func ParseSite(data []byte) (*Site, error) {
	var s Site
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse site configuration: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSiteFile loads a site configuration from a YAML file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadSiteFile(path string) (*Site, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	s, err := ParseSite(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// FindSiteFile searches for the site configuration file in the following order:
// 1. If explicit is specified, use it directly
// 2. Look for sitemirror.yaml in the site's store directory
// 3. Look for sitemirror.yaml in the current directory
// 4. Look for sitemirror.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindSiteFile(explicit, siteDir string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	candidates := []string{}
	if siteDir != "" {
		candidates = append(candidates, filepath.Join(siteDir, DefaultSiteFile))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultSiteFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), DefaultSiteFile))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Provider supplies the configuration of a site.
type Provider interface {
	SiteConfig(site *url.URL) (*Site, error)
}

// FileProvider resolves site configuration files below a store root.
type FileProvider struct {
	// Root is the store root holding one directory per site.
	Root string

	// Path is an explicit configuration file. A missing explicit file is
	// an error; otherwise the embedded default is used when nothing is found.
	Path string
}

// SiteDir returns the directory of site below root.
func SiteDir(root string, site *url.URL) string {
	return filepath.Join(root, uri.HostDirectory(site))
}

// SiteConfig implements Provider.
func (p FileProvider) SiteConfig(site *url.URL) (*Site, error) {
	path := FindSiteFile(p.Path, SiteDir(p.Root, site))
	if path == "" {
		if p.Path != "" {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, p.Path)
		}
		return Default()
	}
	return LoadSiteFile(path)
}
