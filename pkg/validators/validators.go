// Package validators provides the concrete stage validators. Each validator
// scores deposited artifacts under the project root and never mutates the
// run it inspects.
package validators

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// artifactChecks bundles the filesystem probes shared by the validators.
// Paths are always relative to the project root.
type artifactChecks struct {
	root string
}

func (a artifactChecks) fileExists(rel string) bool {
	info, err := os.Stat(filepath.Join(a.root, rel))

	return err == nil && info.Mode().IsRegular()
}

func (a artifactChecks) readFile(rel string) string {
	data, err := os.ReadFile(filepath.Join(a.root, rel))
	if err != nil {
		return ""
	}

	return string(data)
}

func (a artifactChecks) fileHasContent(rel string, minLines int) bool {
	content := a.readFile(rel)
	if content == "" {
		return false
	}

	return len(strings.Split(strings.TrimRight(content, "\n"), "\n")) >= minLines
}

// countCSVRows counts data rows, excluding the header line.
func (a artifactChecks) countCSVRows(rel string) int {
	content := a.readFile(rel)
	if content == "" {
		return 0
	}

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	return max(0, len(lines)-1)
}

func (a artifactChecks) fileMatches(rel string, re *regexp.Regexp) bool {
	content := a.readFile(rel)
	if content == "" {
		return false
	}

	return re.MatchString(content)
}

// ratio converts a check map into a [0,1] completeness score.
func ratio(checks map[string]bool) float64 {
	if len(checks) == 0 {
		return 0
	}

	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}

	return float64(passed) / float64(len(checks))
}
