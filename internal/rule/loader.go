package rule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"maintenance-automation/internal/logger"
)

// RulesLoader handles loading rules from the filesystem
type RulesLoader struct {
	logger  *logger.Logger
	actions ActionTypes
}

// NewRulesLoader creates a new rules loader. When actions is non-nil every
// loaded rule must reference registered action types only.
func NewRulesLoader(log *logger.Logger, actions ActionTypes) *RulesLoader {
	return &RulesLoader{
		logger:  log,
		actions: actions,
	}
}

// LoadFromDirectory loads all rules from a directory and its subdirectories.
// Files may be .json, .yaml or .yml and hold either a list of rules or a
// RuleSet object.
func (l *RulesLoader) LoadFromDirectory(path string) ([]Rule, error) {
	var rules []Rule

	err := filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		ext := strings.ToLower(filepath.Ext(path))
		if info.IsDir() || (ext != ".json" && ext != ".yaml" && ext != ".yml") {
			return nil
		}

		l.logger.Debug("loading rule file", "path", path)

		fileRules, err := l.LoadFile(path)
		if err != nil {
			l.logger.Error("failed to load rule file",
				"path", path,
				"error", err)
			return err
		}

		l.logger.Debug("successfully loaded rules",
			"path", path,
			"count", len(fileRules))

		rules = append(rules, fileRules...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	l.logger.Info("rules loaded successfully",
		"totalRules", len(rules))

	return rules, nil
}

// LoadFile parses and validates a single rules file.
func (l *RulesLoader) LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var rules []Rule
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		rules, err = decodeYAML(data)
	default:
		rules, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for i := range rules {
		if err := Validate(&rules[i], l.actions); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return rules, nil
}

func decodeJSON(data []byte) ([]Rule, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rules []Rule
		if err := json.Unmarshal(trimmed, &rules); err != nil {
			return nil, err
		}
		return rules, nil
	}

	var set RuleSet
	if err := json.Unmarshal(trimmed, &set); err != nil {
		return nil, err
	}
	return set.Rules, nil
}

func decodeYAML(data []byte) ([]Rule, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var rules []Rule
		if err := root.Decode(&rules); err != nil {
			return nil, err
		}
		return rules, nil
	}

	var set RuleSet
	if err := root.Decode(&set); err != nil {
		return nil, err
	}
	return set.Rules, nil
}
