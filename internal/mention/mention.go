// Package mention resolves @name tokens in comment bodies to user ids.
package mention

import (
	"regexp"
	"strings"

	"linear/api/internal/model"
)

var tokenPattern = regexp.MustCompile(`@(\w+)`)

// Tokens returns the names following each @ in body, in order of appearance.
func Tokens(body string) []string {
	matches := tokenPattern.FindAllStringSubmatch(body, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Resolve maps every token in body to the first user in directory whose
// name contains the token, ignoring case. Tokens that match nobody are
// dropped. The result holds each user id once, in order of first mention.
func Resolve(body string, directory []model.User) []string {
	tokens := Tokens(body)
	if len(tokens) == 0 || len(directory) == 0 {
		return []string{}
	}
	names := make([]string, len(directory))
	for i, u := range directory {
		names[i] = strings.ToLower(u.Name)
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		needle := strings.ToLower(token)
		for i, u := range directory {
			if u.ID == "" || !strings.Contains(names[i], needle) {
				continue
			}
			if _, dup := seen[u.ID]; !dup {
				seen[u.ID] = struct{}{}
				out = append(out, u.ID)
			}
			break
		}
	}
	return out
}
