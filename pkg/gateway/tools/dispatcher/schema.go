package dispatcher

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"
)

type argKind int

const (
	kindString argKind = iota
	kindStringList
)

type argSpec struct {
	name        string
	description string
	kind        argKind
	required    bool
	maxLen      int
	enum        []string
}

// args is the coerced argument bag of one call.
type args struct {
	strings map[string]string
	lists   map[string][]string
}

func (a args) str(name string) string    { return a.strings[name] }
func (a args) list(name string) []string { return a.lists[name] }

// coerce validates untrusted model arguments against specs. Unknown keys are
// ignored; keys are matched case-insensitively and with or without underscores.
func coerce(specs []argSpec, raw map[string]any) (args, error) {
	out := args{strings: map[string]string{}, lists: map[string][]string{}}
	lookup := make(map[string]any, len(raw))
	for k, v := range raw {
		lookup[foldKey(k)] = v
	}

	for _, spec := range specs {
		v := lookup[foldKey(spec.name)]
		switch spec.kind {
		case kindStringList:
			items, err := stringListFromAny(v)
			if err != nil {
				return args{}, fmt.Errorf("%s %s", spec.name, err.Error())
			}
			cleaned := make([]string, 0, len(items))
			seen := make(map[string]struct{}, len(items))
			for _, item := range items {
				item = truncateRunes(item, spec.maxLen)
				key := strings.ToLower(item)
				if item == "" {
					continue
				}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				cleaned = append(cleaned, item)
			}
			if len(cleaned) > 0 {
				out.lists[spec.name] = cleaned
			} else if spec.required {
				return args{}, fmt.Errorf("%s is required", spec.name)
			}
		default:
			s, err := stringFromAny(v)
			if err != nil {
				return args{}, fmt.Errorf("%s %s", spec.name, err.Error())
			}
			s = truncateRunes(s, spec.maxLen)
			if s == "" {
				if spec.required {
					return args{}, fmt.Errorf("%s is required", spec.name)
				}
				continue
			}
			if len(spec.enum) > 0 {
				matched := ""
				for _, allowed := range spec.enum {
					if strings.EqualFold(allowed, s) {
						matched = allowed
						break
					}
				}
				if matched == "" {
					return args{}, fmt.Errorf("%s must be one of %s", spec.name, strings.Join(spec.enum, ", "))
				}
				s = matched
			}
			out.strings[spec.name] = s
		}
	}
	return out, nil
}

func foldKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

func stringFromAny(v any) (string, error) {
	switch value := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(value), nil
	case bool:
		return strconv.FormatBool(value), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case json.Number:
		return value.String(), nil
	case []any:
		// Models occasionally wrap a scalar in a one-element array.
		if len(value) == 1 {
			return stringFromAny(value[0])
		}
		return "", fmt.Errorf("must be a string")
	default:
		return "", fmt.Errorf("must be a string")
	}
}

func stringListFromAny(v any) ([]string, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case string:
		parts := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' || r == '\n' })
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	case []string:
		out := make([]string, 0, len(value))
		for _, p := range value {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			s, err := stringFromAny(item)
			if err != nil {
				return nil, fmt.Errorf("must be a list of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a list of strings")
	}
}

func truncateRunes(value string, maxLen int) string {
	value = strings.TrimSpace(value)
	if maxLen <= 0 || utf8.RuneCountInString(value) <= maxLen {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:maxLen]))
}

func declaration(spec *toolSpec) *genai.FunctionDeclaration {
	props := make(map[string]*genai.Schema, len(spec.args))
	order := make([]string, 0, len(spec.args))
	var required []string
	for _, a := range spec.args {
		s := &genai.Schema{Type: genai.TypeString, Description: a.description}
		if a.kind == kindStringList {
			s = &genai.Schema{
				Type:        genai.TypeArray,
				Description: a.description,
				Items:       &genai.Schema{Type: genai.TypeString},
			}
		}
		if len(a.enum) > 0 {
			s.Enum = append([]string(nil), a.enum...)
		}
		props[a.name] = s
		order = append(order, a.name)
		if a.required {
			required = append(required, a.name)
		}
	}
	return &genai.FunctionDeclaration{
		Name:        spec.name,
		Description: spec.description,
		Parameters: &genai.Schema{
			Type:             genai.TypeObject,
			Properties:       props,
			PropertyOrdering: order,
			Required:         required,
		},
	}
}
