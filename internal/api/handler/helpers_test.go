package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/proximity/internal/model"
)

func TestNextCursor(t *testing.T) {
	ids := []string{"a", "b", "c"}
	id := func(i int) string { return ids[i] }

	assert.Equal(t, "c", nextCursor(true, len(ids), id))
	assert.Empty(t, nextCursor(false, len(ids), id))
	assert.Empty(t, nextCursor(true, 0, id))
}

func TestOwnerID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, ownerID(r))

	user := "user-1"
	got := ownerID(withIdentity(r, model.RoleUser, &user))
	require.NotNil(t, got)
	assert.Equal(t, "user-1", *got)
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?lines=20", nil)
	n, err := queryInt(r, "lines", 100)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = queryInt(httptest.NewRequest(http.MethodGet, "/", nil), "lines", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}
