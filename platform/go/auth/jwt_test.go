package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJWTToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		found  bool
	}{
		{"bearer", "Bearer abc.def", "abc.def", true},
		{"lowercase prefix", "bearer abc.def ", "abc.def", true},
		{"missing", "", "", false},
		{"basic auth", "Basic Zm9vOmJhcg==", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, found := ExtractJWTToken(r)
			require.Equal(t, tt.found, found)
			require.Equal(t, tt.want, got)
		})
	}
}
