package kubeutil

import (
	"os"
	"path/filepath"

	xe "github.com/opst/testpod-controller/pkg/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// ResolveKubeconfig decides which kubeconfig file should be used.
//
// It searches kubeconfig from, in priority order (least first),
//
// - `~/.kube/config`
//
// - environmental variable `KUBECONFIG`
//
// - explicit, typically given by command line flag `--kubeconfig`
//
// It returns "" when the found path is not a file. Then in-cluster config should be used.
func ResolveKubeconfig(explicit string) string {
	kubeconfig := ""

	// priority 1 (least): ~/.kube/config
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	// priority 2: envvar KUBECONFIG
	if k := os.Getenv("KUBECONFIG"); k != "" {
		kubeconfig = k
	}

	// priority 3 (most): flag
	if explicit != "" {
		kubeconfig = explicit
	}

	if kubeconfig != "" {
		stat, err := os.Stat(kubeconfig)
		if err != nil || stat.IsDir() {
			kubeconfig = ""
		}
	}
	return kubeconfig
}

// ConnectToK8s builds *kubernetes.Clientset.
//
// When no kubeconfig is found (see ResolveKubeconfig), it tries to use in-cluster config.
func ConnectToK8s(explicitKubeconfig string) (*kubernetes.Clientset, error) {
	kubeconfig := ResolveKubeconfig(explicitKubeconfig)

	var config *rest.Config
	var err error
	if kubeconfig == "" {
		// fallback: try in-cluster
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, xe.WrapWithNote("loading kubeconfig", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return clientset, nil
}
