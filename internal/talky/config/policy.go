// Package config loads the chat policy: per-role message quotas and the
// conversation bounds (per-owner cap, compaction threshold, retained
// window). Policy ships with compiled-in defaults and can be overridden by
// a YAML file, which is validated against an embedded JSON Schema before
// any value is used.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Policy is the root of the chat-policy document.
type Policy struct {
	Limits       Limits       `yaml:"limits"`
	Conversation Conversation `yaml:"conversation"`
}

// Limits maps user roles to hourly message quotas.
type Limits struct {
	// Roles maps a role name (e.g. "STUDENT") to its messages-per-hour quota.
	Roles map[string]int `yaml:"roles"`
	// Default applies to roles absent from Roles.
	Default int `yaml:"default"`
}

// Conversation bounds conversations and their histories.
type Conversation struct {
	// MaxPerUser caps the number of conversations per owner.
	MaxPerUser int `yaml:"max_per_user"`
	// CompactThreshold is the message count past which history is compacted.
	CompactThreshold int `yaml:"compact_threshold"`
	// RetainRecent is the number of recent messages kept by compaction.
	RetainRecent int `yaml:"retain_recent"`
	// HistoryWindow is the number of recent messages served to readers.
	HistoryWindow int `yaml:"history_window"`
}

// policySchema validates the shape of a policy document before decoding.
const policySchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "limits": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "roles": {
          "type": "object",
          "additionalProperties": {"type": "integer", "minimum": 1}
        },
        "default": {"type": "integer", "minimum": 1}
      }
    },
    "conversation": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "max_per_user": {"type": "integer", "minimum": 1},
        "compact_threshold": {"type": "integer", "minimum": 1},
        "retain_recent": {"type": "integer", "minimum": 1},
        "history_window": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

// Default returns the compiled-in policy: the platform role quotas and the
// standard conversation bounds.
func Default() Policy {
	return Policy{
		Limits: Limits{
			Roles: map[string]int{
				"TEACHER": 200,
				"STUDENT": 30,
				"ADMIN":   1000,
			},
			Default: 20,
		},
		Conversation: Conversation{
			MaxPerUser:       4,
			CompactThreshold: 20,
			RetainRecent:     10,
			HistoryWindow:    50,
		},
	}
}

// Load reads and parses the policy file at path. An empty path returns the
// default policy.
func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a policy YAML document, validates it against the schema,
// and fills any omitted values from the defaults. Returns the first
// validation error encountered.
func Parse(data []byte) (Policy, error) {
	if err := validateSchema(data); err != nil {
		return Policy{}, err
	}

	policy := Default()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("policy: parse: %w", err)
	}

	// Explicit roles replace the default table entirely; an empty roles map
	// in the file would otherwise silently merge with the built-ins.
	if policy.Limits.Roles == nil {
		policy.Limits.Roles = Default().Limits.Roles
	}

	if policy.Conversation.RetainRecent >= policy.Conversation.CompactThreshold {
		return Policy{}, fmt.Errorf(
			"policy: retain_recent (%d) must be below compact_threshold (%d) or compaction never shrinks history",
			policy.Conversation.RetainRecent, policy.Conversation.CompactThreshold,
		)
	}

	return policy, nil
}

// validateSchema checks the document against the embedded JSON Schema. The
// YAML is round-tripped through encoding/json so the validator sees the same
// value shapes it would for a JSON document.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("policy: parse: %w", err)
	}
	if doc == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("policy: normalize document: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(jsonBytes, &normalized); err != nil {
		return fmt.Errorf("policy: normalize document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("policy.schema.json", strings.NewReader(policySchema)); err != nil {
		return fmt.Errorf("policy: load schema: %w", err)
	}
	schema, err := compiler.Compile("policy.schema.json")
	if err != nil {
		return fmt.Errorf("policy: compile schema: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("policy: invalid document: %w", err)
	}
	return nil
}
