package domain

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandSecret expands environment variable references in s. It is used for
// API keys and tokens in domain configs so secrets never live in source.
//
// Semantics:
//   - `$VAR` and `${VAR}` are expanded via os.ExpandEnv.
//   - If `${VAR}` is present but VAR is missing from the environment, it errors.
//   - `$$` emits a literal `$` (escape hatch).
func ExpandSecret(s string) (string, error) {
	const dollarSentinel = "\x00GEOQUERY_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollarSentinel)

	missing := make(map[string]struct{})
	for _, match := range envRefPattern.FindAllStringSubmatch(s, -1) {
		name := match[1]
		if _, ok := os.LookupEnv(name); !ok {
			missing[name] = struct{}{}
		}
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("domain: missing required environment variables: %s", strings.Join(names, ", "))
	}

	s = os.ExpandEnv(s)
	s = strings.ReplaceAll(s, dollarSentinel, "$")
	return s, nil
}
