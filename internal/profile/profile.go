package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes how one script language is compiled and run: the
// executable, the fixed arguments placed before the script path, and the
// extension given to the materialized script file.
type Profile struct {
	Name      string   `yaml:"name"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args,omitempty"`
	Extension string   `yaml:"extension"`
}

// Invocation returns the full argument list for one run of scriptPath.
func (p Profile) Invocation(scriptPath string) []string {
	args := make([]string, 0, len(p.Args)+1)
	args = append(args, p.Args...)
	return append(args, scriptPath)
}

// ScriptFilename is the fixed name of the materialized script file.
func (p Profile) ScriptFilename() string {
	ext := p.Extension
	if ext == "" {
		ext = ".txt"
	}
	return "script" + ext
}

// Builtin returns the profiles that ship with the editor.
func Builtin() map[string]Profile {
	return map[string]Profile{
		"kotlin": {
			Name:      "kotlin",
			Command:   "kotlinc",
			Args:      []string{"-script"},
			Extension: ".kts",
		},
	}
}

// LoadAll merges the builtin profiles with YAML profile files found in dirs.
// Later directories override earlier ones, and any file overrides a builtin
// of the same name. Missing directories are skipped.
func LoadAll(dirs []string) (map[string]Profile, error) {
	profiles := Builtin()

	for _, dir := range dirs {
		if err := loadFromDir(dir, profiles); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return profiles, nil
}

func loadFromDir(dir string, profiles map[string]Profile) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		p, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if p.Name == "" {
			p.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}

		profiles[p.Name] = p
	}

	return nil
}

func Parse(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile file: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile YAML: %w", err)
	}

	return p, nil
}

func Validate(p Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile must have a name")
	}
	if p.Command == "" {
		return fmt.Errorf("profile %q must have a command", p.Name)
	}
	return nil
}
