// Package catalog loads the applications that can be deployed.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Base image families understood by the provisioner.
const (
	BaseDebian = "debian"
	BaseUbuntu = "ubuntu"
	BaseAlpine = "alpine"
)

var ErrUnknownApp = errors.New("unknown catalog app")

// Service is one compose service of a catalog app.
type Service struct {
	Image       string            `yaml:"image" json:"image"`
	Command     string            `yaml:"command,omitempty" json:"command,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	Restart     string            `yaml:"restart,omitempty" json:"restart,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// App is a deployable catalog entry.
type App struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Category    string `yaml:"category,omitempty" json:"category,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	// BaseImage selects the runtime install script set.
	BaseImage string `yaml:"base_image" json:"base_image"`
	// Template overrides the default LXC template.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
	// PrimaryService receives the allocated ports, forwarded to Port.
	PrimaryService string             `yaml:"primary_service" json:"primary_service"`
	Port           int                `yaml:"port" json:"port"`
	MinMemoryMB    int                `yaml:"min_memory_mb,omitempty" json:"min_memory_mb,omitempty"`
	MinCores       int                `yaml:"min_cores,omitempty" json:"min_cores,omitempty"`
	DiskGB         int                `yaml:"disk_gb,omitempty" json:"disk_gb,omitempty"`
	Services       map[string]Service `yaml:"services" json:"services"`
}

type file struct {
	Apps []App `yaml:"apps"`
}

// Catalog is an immutable set of apps keyed by ID.
type Catalog struct {
	apps map[string]App
	ids  []string
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	c := &Catalog{apps: make(map[string]App, len(f.Apps))}
	for i, app := range f.Apps {
		if err := validate(app); err != nil {
			return nil, fmt.Errorf("app %d (%s): %w", i, app.ID, err)
		}
		if _, dup := c.apps[app.ID]; dup {
			return nil, fmt.Errorf("duplicate app id %q", app.ID)
		}
		if app.BaseImage == "" {
			app.BaseImage = BaseDebian
		}
		c.apps[app.ID] = app
		c.ids = append(c.ids, app.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

func validate(app App) error {
	if app.ID == "" {
		return errors.New("id is required")
	}
	if len(app.Services) == 0 {
		return errors.New("at least one service is required")
	}
	for name, svc := range app.Services {
		if svc.Image == "" {
			return fmt.Errorf("service %s: image is required", name)
		}
	}
	if _, ok := app.Services[app.PrimaryService]; !ok {
		return fmt.Errorf("primary service %q is not defined", app.PrimaryService)
	}
	if app.Port < 1 || app.Port > 65535 {
		return fmt.Errorf("port %d out of range", app.Port)
	}
	switch app.BaseImage {
	case "", BaseDebian, BaseUbuntu, BaseAlpine:
	default:
		return fmt.Errorf("unsupported base image %q", app.BaseImage)
	}
	return nil
}

// Get returns the app with the given id.
func (c *Catalog) Get(id string) (App, error) {
	app, ok := c.apps[id]
	if !ok {
		return App{}, fmt.Errorf("%w: %s", ErrUnknownApp, id)
	}
	return app, nil
}

// List returns every app ordered by ID.
func (c *Catalog) List() []App {
	out := make([]App, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.apps[id])
	}
	return out
}
