package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityContextURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		wantName  string
		wantError bool
		errSubstr string
	}{
		{
			name:     "valid simple entity name",
			uri:      "deciolog://entity/postgres/context",
			wantName: "postgres",
		},
		{
			name:     "valid entity name with spaces, URL-encoded",
			uri:      "deciolog://entity/rate%20limiting/context",
			wantName: "rate limiting",
		},
		{
			name:      "empty entity name between slashes",
			uri:       "deciolog://entity//context",
			wantError: true,
			errSubstr: "empty entity name",
		},
		{
			name:      "wrong prefix",
			uri:       "other://entity/test/context",
			wantError: true,
			errSubstr: "invalid entity context URI",
		},
		{
			name:      "missing /context suffix",
			uri:       "deciolog://entity/test",
			wantError: true,
			errSubstr: "invalid entity context URI",
		},
		{
			name:      "completely invalid URI",
			uri:       "garbage",
			wantError: true,
			errSubstr: "invalid entity context URI",
		},
		{
			name:      "empty string",
			uri:       "",
			wantError: true,
			errSubstr: "invalid entity context URI",
		},
		{
			name:     "entity name containing context substring",
			uri:      "deciolog://entity/test-context-checker/context",
			wantName: "test-context-checker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, err := parseEntityContextURI(tt.uri)

			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				assert.Empty(t, name)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
		})
	}
}
