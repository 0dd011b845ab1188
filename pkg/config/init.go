package config

import (
	"fmt"
	"os"
)

// InitConfig writes a sample configuration file to the default
// location, failing if a file already exists there and force is not
// set.
func InitConfig(force bool) (string, error) {
	return InitConfigToPath(GetDefaultConfigPath(), force)
}

// InitConfigToPath writes a sample configuration file to path.
func InitConfigToPath(path string, force bool) (string, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}
	cfg := GetDefaultConfig()
	cfg.Lockspaces = []LockspaceEntry{
		{Name: "example", HostID: 1, MaxHosts: 8, Path: "/dev/disk/by-id/example-lockspace", SectorSize: 512},
	}
	cfg.Resources = []ResourceEntry{
		{
			Name:      "example_resource",
			SpaceName: "example",
			Disks:     []ResourceDisk{{Path: "/dev/disk/by-id/example-resource"}},
			NumHosts:  8,
		},
	}
	ApplyDefaults(cfg)
	if err := SaveConfig(cfg, path); err != nil {
		return "", err
	}
	return path, nil
}
