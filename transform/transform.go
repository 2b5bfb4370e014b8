// Package transform applies an ordered list of string transformations to a
// scalar value: base64, split, replace, format, append, regex-extract.
package transform

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ddevcap/sso-adapter/config"
)

// Apply runs value through stages in declared order, each stage seeing the
// prior stage's output. It returns (result, true) normally, or ("", false)
// if any stage produces the empty string — a failed transformation
// short-circuits the containing mapping rather than erroring.
func Apply(value string, stages []config.Transformation) (string, bool) {
	result := value
	for _, stage := range stages {
		result = applyOne(result, stage)
		if result == "" {
			return "", false
		}
	}
	return result, true
}

func applyOne(value string, stage config.Transformation) string {
	switch stage.Kind {
	case config.TransformBase64Decode:
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return ""
		}
		if !utf8.Valid(decoded) {
			return ""
		}
		return string(decoded)

	case config.TransformBase64Encode:
		return base64.StdEncoding.EncodeToString([]byte(value))

	case config.TransformSplit:
		parts := strings.Split(value, stage.Separator)
		if stage.Index < 0 || stage.Index >= len(parts) {
			return ""
		}
		return parts[stage.Index]

	case config.TransformReplace:
		return strings.ReplaceAll(value, stage.From, stage.To)

	case config.TransformFormat:
		return stage.Format + value

	case config.TransformAppend:
		return value + stage.Value

	case config.TransformExtract:
		re, err := regexp.Compile(stage.Regex)
		if err != nil {
			return value
		}
		if match := re.FindString(value); match != "" {
			return match
		}
		return value

	case config.TransformIf, config.TransformMerge:
		// Declared for rule-file compatibility but carrying no defined
		// semantics; the pipeline short-circuits rather than guessing.
		return ""

	default:
		return ""
	}
}

