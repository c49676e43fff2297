// Package cel grounds ThoughtGate's Cedar-shaped policy engine on
// google/cel-go: entity-UID matching is done with plain glob comparison
// (see matcher.go), while each rule's optional free-form condition is
// compiled and evaluated as a CEL expression against the resource's
// arguments and the requesting principal's roles.
package cel

import (
	"net"
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// ConditionContext is the subset of request data a rule condition may
// inspect. It deliberately excludes engine-internal state so conditions
// remain pure values over the request.
type ConditionContext struct {
	ResourceName   string
	ResourceServer string
	ToolArguments  map[string]any
	PrincipalUID   string
	Roles          []string
	RequestTimeUTC int64 // unix nanos
}

// NewConditionEnvironment builds the CEL environment rule conditions compile
// and evaluate against. It mirrors the teacher's universal policy
// environment in shape (variables plus a small set of custom functions) but
// is scoped to the fields a Cedar-shaped rule condition needs.
func NewConditionEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("resource_name", cel.StringType),
		cel.Variable("resource_server", cel.StringType),
		cel.Variable("tool_args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("principal_uid", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("request_time", cel.IntType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		cel.Function("arg",
			cel.Overload("arg_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					if goMap, ok := mapVal.Value().(map[string]any); ok {
						if v, found := goMap[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),

		cel.Function("arg_contains",
			cel.Overload("arg_contains_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					goMap, ok := mapVal.Value().(map[string]any)
					if !ok {
						return types.Bool(false)
					}
					for _, v := range goMap {
						if s, ok := v.(string); ok && strings.Contains(s, substr) {
							return types.Bool(true)
						}
					}
					return types.Bool(false)
				}),
			),
		),

		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ip := net.ParseIP(ipVal.Value().(string))
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),
	)
}

// Activation builds the CEL activation map for a ConditionContext.
func Activation(c ConditionContext) map[string]any {
	args := c.ToolArguments
	if args == nil {
		args = map[string]any{}
	}
	roles := c.Roles
	if roles == nil {
		roles = []string{}
	}
	return map[string]any{
		"resource_name":   c.ResourceName,
		"resource_server": c.ResourceServer,
		"tool_args":       args,
		"principal_uid":   c.PrincipalUID,
		"roles":           roles,
		"request_time":    c.RequestTimeUTC,
	}
}
