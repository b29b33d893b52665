package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths stores resolved runtime file locations for user config, logs, and the journal.
type Paths struct {
	RootDir     string
	ConfigFile  string
	JournalFile string
	LogFile     string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	root := filepath.Join(cfgRoot, Name)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return Paths{
		RootDir:     root,
		ConfigFile:  filepath.Join(root, ConfigFilename),
		JournalFile: filepath.Join(root, JournalFilename),
		LogFile:     filepath.Join(root, LogFilename),
	}, nil
}

// WithConfigFile points the config at an explicit file. Log and journal files
// stay next to it.
func (p Paths) WithConfigFile(path string) Paths {
	if path == "" {
		return p
	}
	dir := filepath.Dir(path)
	p.RootDir = dir
	p.ConfigFile = path
	p.JournalFile = filepath.Join(dir, JournalFilename)
	p.LogFile = filepath.Join(dir, LogFilename)

	return p
}
