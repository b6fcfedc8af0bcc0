package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
)

// cliOverride is a single --set key=value override.
type cliOverride struct {
	key   string
	value any
}

// LoadWithProfile loads the base config file and overlays the
// profile-specific variant (config.dev.yaml for profile "dev") when
// it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	profilePath := profileConfigPath(path, profile)
	if profilePath == "" {
		return cfg, nil
	}
	if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load profile config %s: %w", profilePath, err)
	}

	var merged Config
	if err := k.Unmarshal("", &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// LoadWithCLI parses --config, --profile/--env, and --set flags from
// args and loads configuration with the overrides applied on top.
func LoadWithCLI(args []string) (*Config, error) {
	path, profile, overrides, err := parseCLIArgs(args)
	if err != nil {
		return nil, err
	}

	if _, err := LoadWithProfile(path, profile); err != nil {
		return nil, err
	}

	for _, ov := range overrides {
		k.Set(ov.key, ov.value)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseCLIArgs(args []string) (path, profile string, overrides []cliOverride, err error) {
	path, sets, err := parseCLIOverrides(args)
	if err != nil {
		return "", "", nil, err
	}
	profile = cliProfile(args)
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return "", "", nil, fmt.Errorf("invalid --set value %q, expected key=value", s)
		}
		overrides = append(overrides, cliOverride{key: key, value: parseOverrideValue(value)})
	}
	return path, profile, overrides, nil
}

// parseCLIOverrides extracts the --config path and raw --set pairs.
func parseCLIOverrides(args []string) (path string, sets []string, err error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config requires a value")
			}
			i++
			path = args[i]
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		case arg == "--set":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--set requires a value")
			}
			i++
			if !strings.Contains(args[i], "=") {
				return "", nil, fmt.Errorf("invalid --set value %q, expected key=value", args[i])
			}
			sets = append(sets, args[i])
		case strings.HasPrefix(arg, "--set="):
			v := strings.TrimPrefix(arg, "--set=")
			if !strings.Contains(v, "=") {
				return "", nil, fmt.Errorf("invalid --set value %q, expected key=value", v)
			}
			sets = append(sets, v)
		}
	}
	return path, sets, nil
}

func cliProfile(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--profile" || arg == "--env":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "--profile="):
			return strings.TrimPrefix(arg, "--profile=")
		case strings.HasPrefix(arg, "--env="):
			return strings.TrimPrefix(arg, "--env=")
		}
	}
	return ""
}

// parseOverrideValue interprets JSON literals (bool, number, object)
// so --set memory.enabled=true sets a real bool. Anything that is not
// valid JSON stays a string.
func parseOverrideValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// profileConfigPath returns the profile variant of a config path
// (config.dev.yaml for config.yaml + "dev") if the file exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	candidate := filepath.Join(dir, name+"."+profile+ext)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}
