package kubeutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opst/testpod-controller/pkg/kubeutil"
)

func TestResolveKubeconfig(t *testing.T) {
	dir := t.TempDir()
	fromEnv := filepath.Join(dir, "env-config")
	fromFlag := filepath.Join(dir, "flag-config")
	for _, f := range []string{fromEnv, fromFlag} {
		if err := os.WriteFile(f, []byte{}, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("HOME", filepath.Join(dir, "no-home"))

	t.Run("the explicit path wins", func(t *testing.T) {
		t.Setenv("KUBECONFIG", fromEnv)
		if actual := kubeutil.ResolveKubeconfig(fromFlag); actual != fromFlag {
			t.Errorf("mismatch. (actual, expected) = (%s, %s)", actual, fromFlag)
		}
	})

	t.Run("KUBECONFIG is used without explicit path", func(t *testing.T) {
		t.Setenv("KUBECONFIG", fromEnv)
		if actual := kubeutil.ResolveKubeconfig(""); actual != fromEnv {
			t.Errorf("mismatch. (actual, expected) = (%s, %s)", actual, fromEnv)
		}
	})

	t.Run("missing files and directories resolve to in-cluster", func(t *testing.T) {
		t.Setenv("KUBECONFIG", "")
		if actual := kubeutil.ResolveKubeconfig(filepath.Join(dir, "nope")); actual != "" {
			t.Errorf("unexpected path: %s", actual)
		}
		if actual := kubeutil.ResolveKubeconfig(dir); actual != "" {
			t.Errorf("unexpected path: %s", actual)
		}
	})
}
