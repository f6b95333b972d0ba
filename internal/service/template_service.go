// internal/service/template_service.go
package service

import (
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Render replaces every {{token}} whose full text is a mapping key, and whose
// mapped field exists in data, with the contact's value. Anything else is left
// as written.
func Render(body string, mapping, data map[string]string) string {
	if body == "" || len(mapping) == 0 || data == nil {
		return body
	}
	return placeholderRe.ReplaceAllStringFunc(body, func(token string) string {
		field, ok := mapping[token]
		if !ok {
			return token
		}
		value, ok := data[field]
		if !ok {
			return token
		}
		return value
	})
}

// TemplateParams resolves the provider's positional parameters. Missing
// fields become empty strings.
func TemplateParams(variables []string, mapping, data map[string]string) []string {
	params := make([]string, 0, len(variables))
	for _, v := range variables {
		params = append(params, data[mapping[v]])
	}
	return params
}

// ExtractVariables lists the distinct {{token}} placeholders of body in order
// of first appearance.
func ExtractVariables(body string) []string {
	seen := map[string]bool{}
	vars := []string{}
	for _, m := range placeholderRe.FindAllString(body, -1) {
		if !seen[m] {
			seen[m] = true
			vars = append(vars, m)
		}
	}
	return vars
}
