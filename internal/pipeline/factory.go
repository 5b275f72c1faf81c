package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/mirrorctl/mirrorctl/internal/config"
)

// Build assembles a Pipeline from configured middleware entries, translating
// each MiddlewareConfig{Type, Options} pair into the concrete Middleware it
// names. Unknown types are rejected at startup rather than silently skipped.
func Build(cfgs []config.MiddlewareConfig, logger *slog.Logger) (*Pipeline, error) {
	p := New(logger)
	for _, mc := range cfgs {
		mw, err := buildOne(mc)
		if err != nil {
			return nil, fmt.Errorf("middleware %q: %w", mc.Name, err)
		}
		p.Use(mw)
	}
	return p, nil
}

func buildOne(mc config.MiddlewareConfig) (Middleware, error) {
	switch mc.Type {
	case "trim":
		return &TrimMiddleware{}, nil
	case "html_sanitize":
		return NewHTMLSanitizeMiddleware(), nil
	case "date_normalize":
		return NewDateNormalizeMiddleware(stringSlice(mc.Options["fields"]), stringOpt(mc.Options["format"])), nil
	case "currency_normalize":
		return NewCurrencyNormalizeMiddleware(stringSlice(mc.Options["fields"])), nil
	case "type_coercion":
		return NewTypeCoercionMiddleware(stringMap(mc.Options["coercions"])), nil
	case "pii_redact":
		return NewPIIRedactMiddleware(slog.Default()), nil
	case "field_validate":
		return NewFieldValidateMiddleware(stringMap(mc.Options["patterns"]), boolOpt(mc.Options["drop_invalid"]))
	case "word_count":
		return NewWordCountMiddleware(stringSlice(mc.Options["fields"])), nil
	case "field_filter":
		return &FieldFilterMiddleware{Fields: boolMap(mc.Options["fields"])}, nil
	case "field_rename":
		return &FieldRenameMiddleware{Mapping: stringMap(mc.Options["mapping"])}, nil
	case "required_fields":
		return &RequiredFieldsMiddleware{Fields: stringSlice(mc.Options["fields"])}, nil
	case "dedup":
		return NewDedupMiddleware(stringOpt(mc.Options["key"])), nil
	case "default_values":
		defaults, _ := mc.Options["defaults"].(map[string]any)
		return &DefaultValueMiddleware{Defaults: defaults}, nil
	case "absolute_url":
		return NewAbsoluteURLMiddleware(stringSlice(mc.Options["fields"])), nil
	case "level_gate":
		return NewLevelGateMiddleware(intOpt(mc.Options["max_level"])), nil
	case "host_filter":
		return NewHostFilterMiddleware(stringSlice(mc.Options["hosts"])), nil
	default:
		return nil, fmt.Errorf("unknown middleware type %q", mc.Type)
	}
}

func stringOpt(v any) string {
	s, _ := v.(string)
	return s
}

func boolOpt(v any) bool {
	b, _ := v.(bool)
	return b
}

func intOpt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func boolMap(v any) map[string]bool {
	switch vv := v.(type) {
	case map[string]bool:
		return vv
	case []any:
		out := make(map[string]bool, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out[s] = true
			}
		}
		return out
	default:
		return nil
	}
}
