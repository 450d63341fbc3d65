package provision

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/edvin/proximity/internal/catalog"
)

const defaultRestart = "unless-stopped"

// ProjectName is the compose project of every manifest. Named volumes are
// prefixed with it, so they survive a move of the compose directory.
const ProjectName = "proximity"

// ManifestParams are the per-application values merged into the catalog
// definition.
type ManifestParams struct {
	PublicPort   int
	InternalPort int
	// Environment overrides the primary service environment.
	Environment map[string]string
	// Volumes are appended to the primary service volumes.
	Volumes []string
}

type composeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]struct{}       `yaml:"volumes,omitempty"`
}

type composeService struct {
	Image       string            `yaml:"image"`
	Command     string            `yaml:"command,omitempty"`
	Restart     string            `yaml:"restart"`
	Ports       []string          `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
}

// RenderManifest renders the compose file for app. The primary service is
// published on both allocated ports.
func RenderManifest(app catalog.App, p ManifestParams) ([]byte, error) {
	if p.PublicPort == 0 || p.InternalPort == 0 {
		return nil, fmt.Errorf("render manifest for %s: ports not allocated", app.ID)
	}

	f := composeFile{Name: ProjectName, Services: make(map[string]composeService, len(app.Services))}
	named := map[string]struct{}{}

	for name, svc := range app.Services {
		cs := composeService{
			Image:       svc.Image,
			Command:     svc.Command,
			Restart:     svc.Restart,
			Environment: copyEnv(svc.Environment),
			Volumes:     append([]string(nil), svc.Volumes...),
			DependsOn:   svc.DependsOn,
		}
		if cs.Restart == "" {
			cs.Restart = defaultRestart
		}
		if name == app.PrimaryService {
			cs.Ports = []string{
				fmt.Sprintf("%d:%d", p.PublicPort, app.Port),
				fmt.Sprintf("%d:%d", p.InternalPort, app.Port),
			}
			for k, v := range p.Environment {
				if cs.Environment == nil {
					cs.Environment = map[string]string{}
				}
				cs.Environment[k] = v
			}
			cs.Volumes = append(cs.Volumes, p.Volumes...)
		}
		for _, v := range cs.Volumes {
			if n := namedVolume(v); n != "" {
				named[n] = struct{}{}
			}
		}
		f.Services[name] = cs
	}
	if len(named) > 0 {
		f.Volumes = named
	}

	out, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("render manifest for %s: %w", app.ID, err)
	}
	return out, nil
}

// namedVolume returns the volume name of a "name:/path" mount, or "" for
// bind mounts.
func namedVolume(spec string) string {
	src, _, ok := strings.Cut(spec, ":")
	if !ok || src == "" || strings.ContainsAny(src[:1], "./~$") {
		return ""
	}
	return src
}

func copyEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
