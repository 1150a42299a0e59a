package services

import (
	"fmt"
	"regexp"
	"strings"
)

var boldRolePattern = regexp.MustCompile(`\*\*([^*]+)\*\*`)
var dashRolePattern = regexp.MustCompile(`(?m)^([^—\-\n]+)[—\-]`)

// PersonalizeCase appends a role-assignment block to the case material,
// naming which player takes which role. Role titles are pulled from the
// roles text (bold markers first, leading dash lines as fallback); when none
// can be found, generic titles are used so the block is always present.
func PersonalizeCase(player1, player2, caseText, rolesText string) string {
	var roles []string
	for _, m := range boldRolePattern.FindAllStringSubmatch(rolesText, -1) {
		if r := strings.TrimSpace(m[1]); r != "" {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		for _, m := range dashRolePattern.FindAllStringSubmatch(rolesText, -1) {
			if r := strings.TrimSpace(m[1]); r != "" {
				roles = append(roles, r)
			}
		}
	}

	var b strings.Builder
	b.WriteString(caseText)
	if rolesText != "" {
		b.WriteString("\n\n")
		b.WriteString(rolesText)
	}
	b.WriteString("\n\n--- Role assignment ---\n")

	first, second := "First role", "Second role"
	if len(roles) >= 1 {
		first = roles[0]
	}
	if len(roles) >= 2 {
		second = roles[1]
	}
	fmt.Fprintf(&b, "• %s - played by %s. This is Player 1\n", first, player1)
	fmt.Fprintf(&b, "• %s - played by %s. This is Player 2", second, player2)

	return b.String()
}
