package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kscratch/kscratch/internal/profile"
)

type Config struct {
	DataDir           string
	DBPath            string
	LogPath           string
	ProfileName       string
	CompilerOverride  string
	UserProfileDir    string
	ProjectProfileDir string
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("KSCRATCH_DATA_DIR", filepath.Join(homeDir, ".kscratch"))

	c := &Config{
		DataDir:           dataDir,
		DBPath:            filepath.Join(dataDir, "kscratch.db"),
		LogPath:           filepath.Join(dataDir, "kscratch.log"),
		ProfileName:       getEnv("KSCRATCH_PROFILE", "kotlin"),
		CompilerOverride:  os.Getenv("KSCRATCH_COMPILER"),
		UserProfileDir:    filepath.Join(dataDir, "profiles"),
		ProjectProfileDir: ".kscratch/profiles",
	}

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.UserProfileDir, 0755); err != nil {
		return err
	}
	return nil
}

func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

func (c *Config) HighlighterPath() string {
	return filepath.Join(c.DataDir, "highlight.lua")
}

func (c *Config) ProfileDirs() []string {
	return []string{c.UserProfileDir, c.ProjectProfileDir}
}

// ActiveProfile resolves the configured profile from the loaded set and
// applies the compiler executable override, if any.
func (c *Config) ActiveProfile(profiles map[string]profile.Profile) (profile.Profile, error) {
	p, ok := profiles[c.ProfileName]
	if !ok {
		return profile.Profile{}, fmt.Errorf("profile %q not found", c.ProfileName)
	}
	if c.CompilerOverride != "" {
		p.Command = c.CompilerOverride
	}
	if err := profile.Validate(p); err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
