package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ddevcap/sso-adapter/proxyerr"
)

// TargetServiceKind is the `target_service` variant tag.
type TargetServiceKind string

const (
	TargetDify     TargetServiceKind = "dify"
	TargetSSO      TargetServiceKind = "sso"
	TargetRedirect TargetServiceKind = "redirect"
	TargetSSE      TargetServiceKind = "sse"
)

// TargetService is request.target_service. Selector only carries meaning
// for TargetSSE, where it is the "<kind>-<name>" string gating SSE mode.
type TargetService struct {
	Kind     TargetServiceKind
	Selector string
}

// UnmarshalYAML accepts either a bare scalar ("dify", "sso", "redirect") or a
// single-key map ("sse: bodyfield-stream") for the variants that carry a
// payload.
func (t *TargetService) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		kind := TargetServiceKind(s)
		switch kind {
		case TargetDify, TargetSSO, TargetRedirect:
			*t = TargetService{Kind: kind}
			return nil
		}
		return fmt.Errorf("config: unknown target_service %q", s)
	case yaml.MappingNode:
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		if sel, ok := m["sse"]; ok {
			*t = TargetService{Kind: TargetSSE, Selector: sel}
			return nil
		}
		if sel, ok := m["redirect"]; ok {
			*t = TargetService{Kind: TargetRedirect, Selector: sel}
			return nil
		}
		return fmt.Errorf("config: unrecognized target_service mapping %v", m)
	default:
		return fmt.Errorf("config: target_service must be a scalar or single-key mapping")
	}
}

// MethodMapping is request.method_mapping / response.method_mapping.
type MethodMapping string

const (
	MethodGetToPost MethodMapping = "gettopost"
	MethodPostToGet MethodMapping = "posttoget"
)

// BodyConversion is request.body_conversion / response.body_conversion.
type BodyConversion string

const (
	BodyFormToJSON BodyConversion = "formtojson"
	BodyJSONToForm BodyConversion = "jsontoform"
)

// NamespaceKind is the MixSource/MixTarget variant tag.
type NamespaceKind string

const (
	NamespaceHeader    NamespaceKind = "header"
	NamespaceBodyField NamespaceKind = "bodyfield"
	NamespaceQuery     NamespaceKind = "query"
)

// Ref is a MixSource or MixTarget: a namespace tag plus the key/path within it.
type Ref struct {
	Namespace NamespaceKind
	Key       string
}

// UnmarshalYAML decodes a single-key map, e.g. "header: X-Token" or
// "bodyfield: auth.token".
func (r *Ref) UnmarshalYAML(value *yaml.Node) error {
	var m map[string]string
	if err := value.Decode(&m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("config: source/target must have exactly one key, got %d", len(m))
	}
	for k, v := range m {
		ns := NamespaceKind(k)
		switch ns {
		case NamespaceHeader, NamespaceBodyField, NamespaceQuery:
			*r = Ref{Namespace: ns, Key: v}
			return nil
		}
		return fmt.Errorf("config: unknown source/target namespace %q", k)
	}
	return nil
}

// ActionKind is the MixAction variant tag.
type ActionKind string

const (
	ActionMove      ActionKind = "move"
	ActionCopy      ActionKind = "copy"
	ActionDeleteSrc ActionKind = "deletesrc"
	ActionAddTarget ActionKind = "addtarget"
)

// Action is a mix_mapping's action. Literal only carries meaning when
// Kind == ActionAddTarget.
type Action struct {
	Kind    ActionKind
	Literal string
}

// UnmarshalYAML accepts a bare scalar ("move", "copy", "deletesrc") or a
// single-key map ("addtarget: some-literal").
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		kind := ActionKind(s)
		switch kind {
		case ActionMove, ActionCopy, ActionDeleteSrc:
			*a = Action{Kind: kind}
			return nil
		}
		return fmt.Errorf("config: unknown action %q", s)
	case yaml.MappingNode:
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		if lit, ok := m["addtarget"]; ok {
			*a = Action{Kind: ActionAddTarget, Literal: lit}
			return nil
		}
		return fmt.Errorf("config: unrecognized action mapping %v", m)
	default:
		return fmt.Errorf("config: action must be a scalar or single-key mapping")
	}
}

// TransformationKind is the Transformation variant tag. If and Merge are
// declared so rule files that mention them still parse, but have no
// implemented semantics; a pipeline containing either always fails.
type TransformationKind string

const (
	TransformBase64Decode TransformationKind = "base64decode"
	TransformBase64Encode TransformationKind = "base64encode"
	TransformSplit        TransformationKind = "split"
	TransformReplace      TransformationKind = "replace"
	TransformFormat       TransformationKind = "format"
	TransformAppend       TransformationKind = "append"
	TransformExtract      TransformationKind = "extract"
	TransformIf           TransformationKind = "if"
	TransformMerge        TransformationKind = "merge"
)

// Transformation is one stage of a mix_mapping's transformation pipeline.
// Only the fields relevant to Kind are populated.
type Transformation struct {
	Kind      TransformationKind
	Separator string // Split
	Index     int    // Split
	From, To  string // Replace
	Format    string // Format
	Value     string // Append
	Regex     string // Extract
}

// transformationYAML is the `{type: ..., ...}` wire shape of a
// transformation stage, with every variant's fields flattened together.
type transformationYAML struct {
	Type      string `yaml:"type"`
	Separator string `yaml:"separator"`
	Index     int    `yaml:"index"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Format    string `yaml:"format"`
	Value     string `yaml:"value"`
	Regex     string `yaml:"regex"`
}

func (t *Transformation) UnmarshalYAML(value *yaml.Node) error {
	var aux transformationYAML
	if err := value.Decode(&aux); err != nil {
		return err
	}
	kind := TransformationKind(aux.Type)
	switch kind {
	case TransformBase64Decode, TransformBase64Encode, TransformIf, TransformMerge:
		*t = Transformation{Kind: kind}
	case TransformSplit:
		*t = Transformation{Kind: kind, Separator: aux.Separator, Index: aux.Index}
	case TransformReplace:
		*t = Transformation{Kind: kind, From: aux.From, To: aux.To}
	case TransformFormat:
		*t = Transformation{Kind: kind, Format: aux.Format}
	case TransformAppend:
		*t = Transformation{Kind: kind, Value: aux.Value}
	case TransformExtract:
		*t = Transformation{Kind: kind, Regex: aux.Regex}
	default:
		return fmt.Errorf("config: unknown transformation type %q", aux.Type)
	}
	return nil
}

// SideConfig is one side (request or response) of a PathConfig.
// TargetService is only meaningful (and only ever set) on the request side.
type SideConfig struct {
	TargetService  *TargetService  `yaml:"target_service,omitempty"`
	MethodMapping  *MethodMapping  `yaml:"method_mapping,omitempty"`
	BodyConversion *BodyConversion `yaml:"body_conversion,omitempty"`
	MixMappings    []MixMapping    `yaml:"mix_mappings"`
}

// MixMapping is one rewrite rule within a SideConfig.
type MixMapping struct {
	Source          Ref              `yaml:"source"`
	Target          Ref              `yaml:"target"`
	Action          Action           `yaml:"action"`
	Transformations []Transformation `yaml:"transformations,omitempty"`
}

// PathConfig is the request/response rule pair applied to one path.
type PathConfig struct {
	Request  SideConfig `yaml:"request"`
	Response SideConfig `yaml:"response"`
}

// RuleSet maps an exact, case-sensitive URL path to its PathConfig.
type RuleSet map[string]PathConfig

// LoadRules reads and parses the YAML rule file at path.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, proxyerr.RuleFileParse("config: reading rule file %q: %v", path, err)
	}
	var rules RuleSet
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, proxyerr.RuleFileParse("config: parsing rule file %q: %v", path, err)
	}
	return rules, nil
}
