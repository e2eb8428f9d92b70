package worktree

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ignorePattern is a single parsed ignore-file pattern, adapted from the
// teacher's gitignore.go pattern compiler.
type ignorePattern struct {
	pattern  string
	negated  bool
	dirOnly  bool
	anchored bool
}

// ignoreRule pairs a pattern with the directory its file was loaded from, so
// anchored patterns from a nested ignore file match relative to that
// directory rather than the repository root.
type ignoreRule struct {
	baseDir string
	pat     ignorePattern
}

// Matcher aggregates ignore rules from multiple ignore files loaded during a
// walk; later-loaded rules override earlier ones for the same path.
type Matcher struct {
	rules []ignoreRule
}

// ignoreFileName is the per-directory ignore file this engine recognizes.
const ignoreFileName = ".vcsignore"

// LoadMatcher builds a Matcher from workDir/.vcsignore and
// ctrlDir/info/exclude, matching the teacher's loadIgnoreMatcher layering.
func LoadMatcher(workDir, ctrlDir string) *Matcher {
	m := &Matcher{}
	m.loadExcludeFileWithBase(filepath.Join(ctrlDir, "info", "exclude"), "")
	m.loadFile(workDir, "")
	return m
}

// LoadNested adds the ignore file found at workDir/baseDir/.vcsignore, for
// callers walking the tree and discovering nested ignore files as they go.
func (m *Matcher) LoadNested(workDir, baseDir string) {
	m.loadFile(workDir, baseDir)
}

func (m *Matcher) loadFile(workDir, baseDir string) {
	path := filepath.Join(workDir, filepath.FromSlash(baseDir), ignoreFileName)
	m.loadExcludeFileWithBase(path, baseDir)
}

func (m *Matcher) loadExcludeFileWithBase(path, baseDir string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		pat, ok := parseIgnoreLine(scanner.Text())
		if !ok {
			continue
		}
		m.rules = append(m.rules, ignoreRule{baseDir: baseDir, pat: pat})
	}
}

// IsIgnored reports whether relPath (slash-separated, relative to the
// repository root) should be ignored. The last matching rule wins, letting a
// later negated pattern re-include a path an earlier pattern excluded.
func (m *Matcher) IsIgnored(relPath string, isDir bool) bool {
	ignored := false
	for _, rule := range m.rules {
		if rule.pat.dirOnly && !isDir {
			continue
		}
		if matchPattern(rule, relPath) {
			ignored = !rule.pat.negated
		}
	}
	return ignored
}

func parseIgnoreLine(line string) (ignorePattern, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || line[0] == '#' {
		return ignorePattern{}, false
	}

	var pat ignorePattern
	if line[0] == '!' {
		pat.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		pat.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		pat.anchored = true
		line = line[1:]
	}
	if strings.Contains(line, "/") {
		remainder := strings.TrimPrefix(line, "**/")
		if strings.Contains(remainder, "/") {
			pat.anchored = true
		} else if !strings.HasPrefix(line, "**/") {
			pat.anchored = true
		}
	}

	pat.pattern = line
	return pat, line != ""
}

func matchPattern(rule ignoreRule, relPath string) bool {
	pat := rule.pat

	target := relPath
	if rule.baseDir != "" {
		if !strings.HasPrefix(relPath, rule.baseDir) {
			return false
		}
		target = relPath[len(rule.baseDir):]
	}

	if pat.anchored {
		return matchGlob(pat.pattern, target)
	}

	base := target
	if idx := strings.LastIndex(target, "/"); idx >= 0 {
		base = target[idx+1:]
	}
	if matchGlob(pat.pattern, base) {
		return true
	}
	return matchGlob(pat.pattern, target)
}

// matchGlob matches a gitignore-style glob, handling "**" as zero-or-more
// path components in addition to filepath.Match's single-segment wildcards.
func matchGlob(pattern, name string) bool {
	if !strings.Contains(pattern, "**") {
		matched, _ := filepath.Match(pattern, name)
		return matched
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(patParts, nameParts []string) bool {
	pi, ni := 0, 0
	for pi < len(patParts) && ni < len(nameParts) {
		if patParts[pi] == "**" {
			pi++
			if pi >= len(patParts) {
				return true
			}
			for tryNi := ni; tryNi <= len(nameParts); tryNi++ {
				if matchSegments(patParts[pi:], nameParts[tryNi:]) {
					return true
				}
			}
			return false
		}
		matched, _ := filepath.Match(patParts[pi], nameParts[ni])
		if !matched {
			return false
		}
		pi++
		ni++
	}
	for pi < len(patParts) {
		if patParts[pi] != "**" {
			return false
		}
		pi++
	}
	return ni >= len(nameParts)
}
