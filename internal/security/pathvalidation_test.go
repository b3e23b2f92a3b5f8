package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	root := t.TempDir()
	frames := filepath.Join(root, "frames")
	outside := filepath.Join(root, "outside")
	require.NoError(t, os.MkdirAll(frames, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "depth_0001.png"), []byte("x"), 0o644))
	link := filepath.Join(frames, "linked")
	require.NoError(t, os.Symlink(outside, link))

	tests := []struct {
		name    string
		path    string
		dir     string
		wantErr bool
	}{
		{name: "file in dir", path: filepath.Join(frames, "depth_0001.png"), dir: frames},
		{name: "not yet created nested file", path: filepath.Join(frames, "a", "b.png"), dir: frames},
		{name: "dot dot", path: filepath.Join(frames, "..", "outside", "depth_0001.png"), dir: frames, wantErr: true},
		{name: "relative escape", path: "../../../etc/passwd", dir: frames, wantErr: true},
		{name: "absolute elsewhere", path: "/etc/passwd", dir: frames, wantErr: true},
		{name: "through symlink", path: filepath.Join(link, "depth_0001.png"), dir: frames, wantErr: true},
		{name: "the symlink itself", path: link, dir: frames, wantErr: true},
		{name: "new file under symlink", path: filepath.Join(link, "new.png"), dir: frames, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, tt.dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"depth":              "depth",
		"raw3d fps":          "raw3d_fps",
		"../../etc/passwd":   "etc_passwd",
		"a  //  b":           "a_b",
		"":                   "unknown",
		"...":                "unknown",
		"map-2d.v1":          "map-2d.v1",
		"session:1234/frame": "session_1234_frame",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
