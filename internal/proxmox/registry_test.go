package proxmox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/proximity/internal/model"
)

type fakeHostStore struct {
	hosts map[string]*model.ProxmoxHost
	calls int
}

func (f *fakeHostStore) GetHost(ctx context.Context, id string) (*model.ProxmoxHost, error) {
	f.calls++
	h, ok := f.hosts[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *h
	return &cp, nil
}

type prefixOpener struct{}

func (prefixOpener) Open(encoded string) (string, error) {
	if len(encoded) < 4 || encoded[:4] != "enc:" {
		return "", errors.New("bad ciphertext")
	}
	return encoded[4:], nil
}

func TestRegistry_CachesUntilHostChanges(t *testing.T) {
	updated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeHostStore{hosts: map[string]*model.ProxmoxHost{
		"h1": {ID: "h1", Name: "lab", Host: "10.0.0.2", Port: 8006, User: "root@pam", Password: "enc:secret", UpdatedAt: updated},
	}}
	r := NewRegistry(store, prefixOpener{}, RegistryConfig{}, zerolog.Nop())

	c1, err := r.Client(context.Background(), "h1")
	require.NoError(t, err)
	c2, err := r.Client(context.Background(), "h1")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, "secret", c1.cfg.Password)
	assert.Equal(t, "https://10.0.0.2:8006/api2/json", c1.baseURL)
	assert.NotNil(t, c1.exec, "password auth should provide an ssh executor")

	store.hosts["h1"].UpdatedAt = updated.Add(time.Minute)
	c3, err := r.Client(context.Background(), "h1")
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
}

func TestRegistry_Invalidate(t *testing.T) {
	store := &fakeHostStore{hosts: map[string]*model.ProxmoxHost{
		"h1": {ID: "h1", Host: "10.0.0.2", User: "root@pam", Password: "enc:secret"},
	}}
	r := NewRegistry(store, prefixOpener{}, RegistryConfig{}, zerolog.Nop())

	c1, err := r.Client(context.Background(), "h1")
	require.NoError(t, err)
	r.Invalidate("h1")
	c2, err := r.Client(context.Background(), "h1")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
}

func TestRegistry_DecryptFailure(t *testing.T) {
	store := &fakeHostStore{hosts: map[string]*model.ProxmoxHost{
		"h1": {ID: "h1", Name: "lab", Password: "plaintext"},
	}}
	r := NewRegistry(store, prefixOpener{}, RegistryConfig{}, zerolog.Nop())

	_, err := r.Client(context.Background(), "h1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt credentials for host lab")
}

func TestRegistry_UnknownHost(t *testing.T) {
	r := NewRegistry(&fakeHostStore{hosts: map[string]*model.ProxmoxHost{}}, prefixOpener{}, RegistryConfig{}, zerolog.Nop())
	_, err := r.Client(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load proxmox host nope")
}

func TestSSHUserFromRealm(t *testing.T) {
	assert.Equal(t, "root", sshUserFromRealm("root@pam"))
	assert.Equal(t, "admin", sshUserFromRealm("admin"))
}
