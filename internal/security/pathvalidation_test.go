package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmp := t.TempDir()
	project := filepath.Join(tmp, "ar11158")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "Bout.bin"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(project, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in project", filepath.Join(project, "Bout.bin"), false},
		{"not yet written", filepath.Join(project, "run", "Bout2.bin"), false},
		{"dot segments inside", filepath.Join(project, "run", "..", "B0.bin"), false},
		{"parent escape", filepath.Join(project, "..", "outside", "Bout.bin"), true},
		{"sibling directory", filepath.Join(outside, "Bout.bin"), true},
		{"symlink escape", filepath.Join(project, "link", "Bout.bin"), true},
		{"symlink escape to new file", filepath.Join(project, "link", "new.bin"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, project)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidatePathMissingDirectory(t *testing.T) {
	err := ValidatePathWithinDirectory("Bout.bin", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}
