package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edvin/proximity/internal/core"
)

func TestSettingSet_EmptyKey(t *testing.T) {
	h := NewSetting(nil)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPut, "/settings/", map[string]any{"value": "x"}), "key", "")

	h.Set(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingSet_UnknownKey(t *testing.T) {
	h := NewSetting(core.NewSettingsService(&handlerMockDB{}, nil))
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPut, "/settings/colour", map[string]any{"value": "blue"}), "key", "colour")

	h.Set(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
