package provision

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyFor(t *testing.T) {
	for _, base := range []string{"", "debian", "ubuntu"} {
		f, err := FamilyFor(base)
		require.NoError(t, err)
		assert.Equal(t, FamilyDebian, f, base)
	}

	f, err := FamilyFor("alpine")
	require.NoError(t, err)
	assert.Equal(t, FamilyAlpine, f)

	_, err = FamilyFor("arch")
	assert.Error(t, err)
}

func TestInstallPlan_Debian(t *testing.T) {
	plan := InstallPlan(FamilyDebian)
	require.NotEmpty(t, plan)

	var names []string
	for _, s := range plan {
		names = append(names, s.Name)
		assert.Positive(t, s.Timeout, s.Name)
		assert.False(t, s.TolerateNonZero, s.Name)
	}
	assert.Equal(t, []string{"apt-update", "apt-prerequisites", "install-docker", "enable-docker", "verify-docker"}, names)
	assert.Contains(t, plan[2].Command, "get.docker.com")
	assert.Contains(t, plan[len(plan)-1].Command, "docker --version")
}

func TestInstallPlan_Alpine(t *testing.T) {
	plan := InstallPlan(FamilyAlpine)
	require.NotEmpty(t, plan)
	assert.Equal(t, "apk-update", plan[0].Name)
	for _, s := range plan {
		assert.NotContains(t, s.Command, "apt-get", s.Name)
		assert.NotContains(t, s.Command, "systemctl", s.Name)
	}
	assert.Contains(t, plan[len(plan)-1].Command, "docker --version")
}

func TestDeployPlan(t *testing.T) {
	manifest := []byte("services:\n  web:\n    image: nginx\n")
	plan := DeployPlan("blog", manifest)
	require.Len(t, plan, 3)

	write := plan[0]
	assert.Equal(t, "write-manifest", write.Name)
	assert.True(t, strings.HasPrefix(write.Command, "mkdir -p /opt/proximity/blog && echo "))
	assert.True(t, strings.HasSuffix(write.Command, "| base64 -d > /opt/proximity/blog/docker-compose.yml"))
	assert.Contains(t, write.Command, base64.StdEncoding.EncodeToString(manifest))
	assert.NotContains(t, write.Command, "'")

	pull := plan[1]
	assert.Equal(t, "docker compose -f /opt/proximity/blog/docker-compose.yml pull --quiet", pull.Command)
	assert.Equal(t, 10*time.Minute, pull.Timeout)

	assert.Equal(t, "docker compose -f /opt/proximity/blog/docker-compose.yml up -d --remove-orphans", plan[2].Command)
}

func TestVerifyAndLogs(t *testing.T) {
	assert.Equal(t, "docker compose -f /opt/proximity/blog/docker-compose.yml ps --status running --quiet", VerifyStep("blog").Command)
	assert.Equal(t, "docker compose -f /opt/proximity/blog/docker-compose.yml logs --no-color --tail 50", LogsCommand("blog", 50))
}

func TestClonePlan(t *testing.T) {
	plan := ClonePlan("blog", "blog-copy", []byte("services: {}\n"))
	require.Len(t, plan, 4)

	move := plan[0]
	assert.Equal(t, "move-project", move.Name)
	assert.Contains(t, move.Command, "mv /opt/proximity/blog /opt/proximity/blog-copy")
	assert.Equal(t, "write-manifest", plan[1].Name)
	assert.Contains(t, plan[1].Command, "/opt/proximity/blog-copy/docker-compose.yml")
}
