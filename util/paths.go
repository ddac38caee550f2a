package util

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv("GHOSTMESH_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".ghostmesh-data")
}

// GetSocketDir returns the directory where node broadcast sockets live
func GetSocketDir() string {
	socketDir := filepath.Join(GetDataDir(), "sockets")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		panic(err)
	}
	return socketDir
}

// GetBridgeSocketPath returns the default UI bridge socket path for a node
func GetBridgeSocketPath(nodeUUID string) string {
	return filepath.Join(GetDataDir(), "bridge-"+nodeUUID+".sock")
}
