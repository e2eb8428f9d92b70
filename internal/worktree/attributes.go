package worktree

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Attribute names this engine recognizes, modeled on Git's own gitattributes
// vocabulary but trimmed to what the merge and diff layers actually consult.
const (
	AttrMergeBinary  = "merge=binary"
	AttrLineEndingBinary = "line_ending=binary"
	AttrDiff         = "diff"
	AttrExportIgnore = "export-ignore"
)

type attrRule struct {
	baseDir string
	pattern string
	attrs   []string
}

// Attributes maps paths to their attribute set, reusing the ignore matcher's
// glob engine but attaching a list of attribute strings to each pattern
// instead of an ignored/not-ignored bit.
type Attributes struct {
	rules []attrRule
}

const attributesFileName = ".vcsattributes"

// LoadAttributes reads workDir/.vcsattributes, returning an empty Attributes
// if the file doesn't exist.
func LoadAttributes(workDir string) *Attributes {
	a := &Attributes{}
	a.loadFile(workDir, "")
	return a
}

func (a *Attributes) loadFile(workDir, baseDir string) {
	path := filepath.Join(workDir, filepath.FromSlash(baseDir), attributesFileName)
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		a.rules = append(a.rules, attrRule{baseDir: baseDir, pattern: fields[0], attrs: fields[1:]})
	}
}

// Has reports whether relPath carries the named attribute, with later rules
// overriding earlier ones exactly like Matcher.IsIgnored.
func (a *Attributes) Has(relPath, attr string) bool {
	has := false
	for _, r := range a.rules {
		target := relPath
		if r.baseDir != "" {
			if !strings.HasPrefix(relPath, r.baseDir) {
				continue
			}
			target = relPath[len(r.baseDir):]
		}
		if !matchGlob(r.pattern, target) {
			base := target
			if idx := strings.LastIndex(target, "/"); idx >= 0 {
				base = target[idx+1:]
			}
			if !matchGlob(r.pattern, base) {
				continue
			}
		}
		for _, want := range r.attrs {
			if want == attr {
				has = true
			} else if want == "-"+attr {
				has = false
			}
		}
	}
	return has
}
