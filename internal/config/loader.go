package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// Load reads a plan file (yaml, json or toml by extension). BASE_URL in the
// environment wins over base_url in the file.
func Load(path string) (Plan, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetDefault("timeout_sec", DefaultTimeoutSec)
	v.SetDefault("base_url", DefaultBaseURL)
	if err := v.BindEnv("base_url", EnvBaseURL); err != nil {
		return Plan{}, err
	}

	if err := v.ReadInConfig(); err != nil {
		return Plan{}, fmt.Errorf("read plan %s: %w", path, err)
	}

	var p Plan
	if err := v.Unmarshal(&p); err != nil {
		return Plan{}, fmt.Errorf("decode plan %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := restoreKeyCase(&p, path); err != nil {
		return Plan{}, fmt.Errorf("decode plan %s: %w", path, err)
	}
	p.ApplyDefaults()

	log.WithFields(log.Fields{
		"plan":      p.Name,
		"path":      path,
		"scenarios": len(p.Scenarios),
		"base_url":  p.BaseURL,
	}).Info("Successfully loaded plan")
	return p, nil
}

// Resolve picks a built-in preset by name, or loads the argument as a plan
// file when it points at an existing file.
func Resolve(nameOrPath string) (Plan, error) {
	if _, err := os.Stat(nameOrPath); err == nil {
		return Load(nameOrPath)
	}
	return Preset(nameOrPath, os.LookupEnv)
}

// restoreKeyCase undoes viper's lowercasing of map keys. Scenario names,
// threshold selectors, query names, headers and vars are case-sensitive, so
// their keys are taken from the file as written.
func restoreKeyCase(p *Plan, path string) error {
	doc, err := readDocument(path)
	if err != nil || doc == nil {
		return err
	}

	if vars, ok := doc["vars"].(map[string]any); ok {
		p.Vars = stringMap(vars)
	}

	if raw, ok := doc["thresholds"].(map[string]any); ok {
		thresholds := make(map[string][]any, len(raw))
		for key := range raw {
			if exprs, ok := p.Thresholds[strings.ToLower(key)]; ok {
				thresholds[key] = exprs
			}
		}
		p.Thresholds = thresholds
	}

	if raw, ok := doc["scenarios"].(map[string]any); ok {
		scenarios := make(map[string]Scenario, len(raw))
		for name, v := range raw {
			sc, ok := p.Scenarios[strings.ToLower(name)]
			if !ok {
				continue
			}
			body, _ := v.(map[string]any)
			if req, ok := body["request"].(map[string]any); ok && sc.Request != nil {
				if q, ok := req["query"].(map[string]any); ok {
					sc.Request.Query = stringMap(q)
				}
				if h, ok := req["headers"].(map[string]any); ok {
					sc.Request.Headers = stringMap(h)
				}
			}
			scenarios[name] = sc
		}
		p.Scenarios = scenarios
	}
	return nil
}

// readDocument decodes the plan file without touching key case. Unknown
// extensions return a nil document.
func readDocument(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &doc)
	case ".json":
		err = json.Unmarshal(raw, &doc)
	case ".toml":
		err = toml.Unmarshal(raw, &doc)
	default:
		return nil, nil
	}
	return doc, err
}

func stringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}
