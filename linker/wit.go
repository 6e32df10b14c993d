package linker

import (
	"regexp"
	"sort"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-scripting/errors"
)

var witFuncPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// RegisterWIT registers natives whose signatures are declared in WIT, e.g.
//
//	get-player-money: func(player: u32) -> s64;
//
// Kebab-case names are registered in snake_case. Every declared function
// needs an implementation in impls.
func (r *Registry) RegisterWIT(witText string, impls map[string]NativeFunc) error {
	sigs, err := ParseWITSignatures(witText)
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(sigs) {
		impl, ok := impls[name]
		if !ok {
			return errors.Registration(name, errors.NotFound(errors.PhaseRegister, "implementation", name))
		}
		if err := r.RegisterSignature(name, sigs[name], impl); err != nil {
			return err
		}
	}
	return nil
}

// ParseWITSignatures extracts function signatures from WIT text.
// Pattern: [export] name: func(params) -> result;
func ParseWITSignatures(witText string) (map[string]Signature, error) {
	sigs := make(map[string]Signature)

	for _, match := range witFuncPattern.FindAllStringSubmatch(witText, -1) {
		name := strings.ReplaceAll(match[1], "-", "_")
		paramsStr := strings.TrimSpace(match[2])
		resultStr := strings.TrimSpace(match[3])

		var sig Signature
		for _, p := range splitParams(paramsStr) {
			typStr := p
			if idx := strings.LastIndex(p, ":"); idx != -1 {
				typStr = p[idx+1:]
			}
			k, err := witKind(typStr)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse param type of "+name)
			}
			sig.Params = append(sig.Params, k)
		}

		if resultStr != "" && resultStr != "()" {
			parts := []string{resultStr}
			if strings.HasPrefix(resultStr, "(") && strings.HasSuffix(resultStr, ")") {
				parts = splitParams(resultStr[1 : len(resultStr)-1])
			}
			for _, part := range parts {
				k, err := witKind(part)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse result type of "+name)
				}
				sig.Results = append(sig.Results, k)
			}
		}
		sigs[name] = sig
	}

	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}
	return sigs, nil
}

// witKind maps a WIT primitive to a signature kind.
func witKind(s string) (Kind, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	switch t.(type) {
	case wit.Bool:
		return KindBool, nil
	case wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return KindInt32, nil
	case wit.S64, wit.U64:
		return KindInt64, nil
	case wit.F32:
		return KindFloat32, nil
	case wit.F64:
		return KindFloat64, nil
	case wit.String:
		return KindString, nil
	}
	return 0, errors.InvalidInput(errors.PhaseParse, "unsupported WIT type "+strings.TrimSpace(s))
}

// splitParams splits a parameter list, handling nested parens.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
		case ')', '>':
			depth--
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
				continue
			}
		}
		current.WriteRune(ch)
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
