// Package provision defines the commands run inside a new container to
// install the container runtime and start an application's services.
package provision

import (
	"encoding/base64"
	"fmt"
	"path"
	"time"

	"github.com/edvin/proximity/internal/catalog"
)

// Family selects the install script set for a base image.
type Family string

const (
	FamilyDebian Family = "debian"
	FamilyAlpine Family = "alpine"
)

// ComposeRoot holds one directory per application.
const ComposeRoot = "/opt/proximity"

// Step is one command executed in the guest.
type Step struct {
	Name            string        `json:"name"`
	Command         string        `json:"command"`
	Timeout         time.Duration `json:"timeout"`
	TolerateNonZero bool          `json:"tolerate_non_zero,omitempty"`
}

// Plan is an ordered list of steps. A failing step aborts the rest.
type Plan []Step

// StepResult records the outcome of one step.
type StepResult struct {
	Name     string        `json:"name"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// FamilyFor maps a catalog base image to its script family.
func FamilyFor(baseImage string) (Family, error) {
	switch baseImage {
	case "", catalog.BaseDebian, catalog.BaseUbuntu:
		return FamilyDebian, nil
	case catalog.BaseAlpine:
		return FamilyAlpine, nil
	}
	return "", fmt.Errorf("no install plan for base image %q", baseImage)
}

const verifyRuntime = "docker --version && docker compose version"

// InstallPlan returns the runtime install steps for f.
func InstallPlan(f Family) Plan {
	switch f {
	case FamilyAlpine:
		return Plan{
			{Name: "apk-update", Command: "apk update", Timeout: 5 * time.Minute},
			{Name: "install-docker", Command: "apk add --no-cache docker docker-cli-compose curl", Timeout: 10 * time.Minute},
			{Name: "enable-docker", Command: "rc-update add docker default && service docker start", Timeout: 2 * time.Minute},
			{Name: "verify-docker", Command: verifyRuntime, Timeout: time.Minute},
		}
	default:
		return Plan{
			{Name: "apt-update", Command: "export DEBIAN_FRONTEND=noninteractive && apt-get update -qq", Timeout: 5 * time.Minute},
			{Name: "apt-prerequisites", Command: "export DEBIAN_FRONTEND=noninteractive && apt-get install -y -qq ca-certificates curl", Timeout: 5 * time.Minute},
			{Name: "install-docker", Command: "curl -fsSL https://get.docker.com -o /tmp/get-docker.sh && sh /tmp/get-docker.sh", Timeout: 10 * time.Minute},
			{Name: "enable-docker", Command: "systemctl enable --now docker", Timeout: 2 * time.Minute},
			{Name: "verify-docker", Command: verifyRuntime, Timeout: time.Minute},
		}
	}
}

// ComposeDir is the directory holding hostname's manifest.
func ComposeDir(hostname string) string {
	return path.Join(ComposeRoot, hostname)
}

// ComposeFile is the manifest path for hostname.
func ComposeFile(hostname string) string {
	return path.Join(ComposeDir(hostname), "docker-compose.yml")
}

func compose(hostname, args string) string {
	return fmt.Sprintf("docker compose -f %s %s", ComposeFile(hostname), args)
}

// DeployPlan writes manifest to the guest, pulls the images and starts the
// services.
func DeployPlan(hostname string, manifest []byte) Plan {
	encoded := base64.StdEncoding.EncodeToString(manifest)
	return Plan{
		{
			Name:    "write-manifest",
			Command: fmt.Sprintf("mkdir -p %s && echo %s | base64 -d > %s", ComposeDir(hostname), encoded, ComposeFile(hostname)),
			Timeout: 30 * time.Second,
		},
		{Name: "pull-images", Command: compose(hostname, "pull --quiet"), Timeout: 10 * time.Minute},
		{Name: "start-services", Command: compose(hostname, "up -d --remove-orphans"), Timeout: 5 * time.Minute},
	}
}

// ClonePlan moves the source application's compose directory to hostname
// and redeploys it with manifest. The project name is unchanged, so the
// cloned named volumes are picked up by the new services.
func ClonePlan(sourceHostname, hostname string, manifest []byte) Plan {
	src, dst := ComposeDir(sourceHostname), ComposeDir(hostname)
	move := Step{
		Name:    "move-project",
		Command: fmt.Sprintf("if [ -d %s ] && [ %s != %s ]; then rm -rf %s && mv %s %s; fi", src, src, dst, dst, src, dst),
		Timeout: 30 * time.Second,
	}
	return append(Plan{move}, DeployPlan(hostname, manifest)...)
}

// VerifyStep lists the running services; empty output means nothing started.
func VerifyStep(hostname string) Step {
	return Step{Name: "verify-services", Command: compose(hostname, "ps --status running --quiet"), Timeout: time.Minute}
}

// LogsCommand tails the combined service logs.
func LogsCommand(hostname string, lines int) string {
	return compose(hostname, fmt.Sprintf("logs --no-color --tail %d", lines))
}
