package utils

import (
	"regexp"
	"strings"

	"zapflow/models"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_ ]+)\}`)

// RenderTemplate substitutes {placeholder} tokens in content with recipient
// variables. Matching is case-insensitive; unmatched placeholders resolve
// to the empty string.
func RenderTemplate(content string, vars map[string]string) string {
	lowered := make(map[string]string, len(vars))
	for k, v := range vars {
		lowered[strings.ToLower(strings.TrimSpace(k))] = v
	}

	return placeholderRe.ReplaceAllStringFunc(content, func(token string) string {
		name := strings.ToLower(strings.TrimSpace(token[1 : len(token)-1]))
		return lowered[name]
	})
}

// ContactVars builds the substitution map for a contact: built-in name,
// phone and email variables plus any custom fields.
func ContactVars(contact *models.Contact) map[string]string {
	vars := map[string]string{
		"name":  contact.Name,
		"phone": contact.Phone,
		"email": contact.Email,
	}
	for _, field := range contact.CustomFields {
		vars[field.Name] = field.Value
	}
	return vars
}
