package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest["name"])
			}
		})
	}
}

func TestParseJSONUnknownField(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{"name":"test","extra":1}`))
	var dest struct {
		Name string `json:"name"`
	}

	err := ParseJSON(req, &dest)

	assert.ErrorContains(t, err, "extra")
}

func TestParseJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(""))
	dest := struct {
		Reason string `json:"reason"`
	}{Reason: "unchanged"}

	err := ParseJSON(req, &dest)

	assert.NoError(t, err)
	assert.Equal(t, "unchanged", dest.Reason)
}

func TestParseJSONOrError(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expectOK   bool
		expectCode int
	}{
		{
			name:     "valid JSON",
			body:     `{"name": "test"}`,
			expectOK: true,
		},
		{
			name:       "invalid JSON",
			body:       `{invalid}`,
			expectOK:   false,
			expectCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			ok := ParseJSONOrError(w, req, &dest)

			assert.Equal(t, tt.expectOK, ok)
			if !tt.expectOK {
				assert.Equal(t, tt.expectCode, w.Code)
			}
		})
	}
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/test/myvalue", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "myvalue"})

	val, err := ParsePathString(req, "name")

	assert.NoError(t, err)
	assert.Equal(t, "myvalue", val)

	_, err = ParsePathString(req, "missing")
	assert.EqualError(t, err, "missing path parameter: missing")
}

func TestParseQueryBool(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		want        bool
		expectError bool
	}{
		{name: "true", query: "?dry_run=true", want: true},
		{name: "one", query: "?dry_run=1", want: true},
		{name: "false", query: "?dry_run=false", want: false},
		{name: "default", query: "", want: false},
		{name: "invalid", query: "?dry_run=maybe", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test"+tt.query, nil)

			val, err := ParseQueryBool(req, "dry_run", false)

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, val)
		})
	}
}

func TestParseQueryBoolOrError_Invalid(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test?force=perhaps", nil)

	_, ok := ParseQueryBoolOrError(w, req, "force", false)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
