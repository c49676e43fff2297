package cel

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
)

// ruleDoc is the YAML shape a policy bundle is authored in. The Cedar-shaped
// engine only needs entity-UID patterns plus an optional CEL condition, so
// the on-disk format stays flat rather than mirroring Cedar's own syntax.
type ruleDoc struct {
	ID        string `yaml:"id"`
	Principal string `yaml:"principal"`
	Action    string `yaml:"action"`
	Resource  string `yaml:"resource"`
	Condition string `yaml:"condition"`
	TimeoutS  int    `yaml:"timeout_seconds"`
}

type bundleDoc struct {
	Rules []ruleDoc `yaml:"rules"`
}

// parseAction maps the YAML action string onto the verdict kinds a rule may
// carry. "reject" is intentionally not representable in a bundle: Reject is
// always the engine's fail-closed fallback, never an authored rule.
func parseAction(s string) (policy.VerdictKind, error) {
	switch s {
	case "forward":
		return policy.Forward, nil
	case "approve":
		return policy.Approve, nil
	default:
		return 0, fmt.Errorf("unknown action %q (must be forward or approve)", s)
	}
}

// decodeBundle parses raw YAML bytes into a policy.Bundle, tagging it with
// source and load time. It does not validate conditions — that happens when
// the caller hands the bundle to Engine.Swap or NewEngine, which compiles
// every condition and rejects the whole bundle on the first failure.
func decodeBundle(raw []byte, source policy.Source, path string) (*policy.Bundle, error) {
	var doc bundleDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, policy.NewParseError(path, 0, err)
	}

	rules := make([]policy.Rule, 0, len(doc.Rules))
	for _, rd := range doc.Rules {
		if rd.ID == "" {
			return nil, policy.NewSchemaValidationError(path, fmt.Errorf("rule missing id"))
		}
		action, err := parseAction(rd.Action)
		if err != nil {
			return nil, policy.NewSchemaValidationError(path, fmt.Errorf("rule %q: %w", rd.ID, err))
		}
		if rd.Principal == "" || rd.Resource == "" {
			return nil, policy.NewSchemaValidationError(path, fmt.Errorf("rule %q: principal and resource are required", rd.ID))
		}
		rules = append(rules, policy.Rule{
			ID:        rd.ID,
			Principal: rd.Principal,
			Action:    action,
			Resource:  rd.Resource,
			Condition: rd.Condition,
			Timeout:   time.Duration(rd.TimeoutS) * time.Second,
		})
	}

	return &policy.Bundle{
		Rules:    rules,
		LoadedAt: time.Now(),
		Source:   source,
	}, nil
}

// LoadFromFile reads and parses a YAML bundle from disk.
func LoadFromFile(path string) (*policy.Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, policy.NewFileNotFound(path, err)
		}
		return nil, policy.NewFileNotFound(path, err)
	}
	return decodeBundle(raw, policy.SourceConfigFile, path)
}

// LoadFromEnvBlob parses a YAML bundle supplied inline via an environment
// variable (the POLICIES blob).
func LoadFromEnvBlob(blob string) (*policy.Bundle, error) {
	return decodeBundle([]byte(blob), policy.SourceEnvironment, "$POLICIES")
}

// Load implements the three-way loading-priority order: a configured file
// path wins if present, then the environment blob, then the embedded
// permissive default. The caller is responsible for logging the warning
// required when the embedded default is selected.
func Load(policyFile, policiesBlob string) (*policy.Bundle, error) {
	if policyFile != "" {
		return LoadFromFile(policyFile)
	}
	if policiesBlob != "" {
		return LoadFromEnvBlob(policiesBlob)
	}
	return policy.EmbeddedDefault(), nil
}
