package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"ms-eventchain/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateFontValidation(t *testing.T) {
	dir := t.TempDir()
	font := filepath.Join(dir, "Sans.ttf")
	require.NoError(t, os.WriteFile(font, []byte("ttf"), 0o600))

	cases := []struct {
		name    string
		path    string
		wantErr string
	}{
		{name: "present", path: font},
		{name: "missing file", path: filepath.Join(dir, "DejaVuSans.ttf"), wantErr: "CERT_FONT_PATH"},
		{name: "directory", path: dir, wantErr: "is a directory"},
		{name: "empty", path: "", wantErr: "CERT_FONT_PATH is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := config.CertificateConfig{FontPath: tc.path}.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDefaultFontPathFailsWhenNotShipped(t *testing.T) {
	t.Setenv("CERT_FONT_PATH", "")
	t.Chdir(t.TempDir())

	err := config.Load().Certificates.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fonts/DejaVuSans.ttf")
}
