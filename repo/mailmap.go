package repo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashgraft/hashgraft/internal/commitgraph"
)

// mailmapEntry is a single mapping rule from a .mailmap file. See
// git-mailmap(5) for the full specification this mirrors.
type mailmapEntry struct {
	properName  string
	properEmail string
	commitName  string
	commitEmail string
}

// Mailmap holds parsed .mailmap entries and resolves author/committer
// identities at commit time, so the same contributor under several
// name/email combinations still attributes to one canonical identity.
type Mailmap struct {
	entries []mailmapEntry
}

// parseMailmap parses a .mailmap file's content into a Mailmap, supporting
// all four forms defined in git-mailmap(5):
//  1. Proper Name <commit@email>
//  2. <proper@email> <commit@email>
//  3. Proper Name <proper@email> <commit@email>
//  4. Proper Name <proper@email> Commit Name <commit@email>
func parseMailmap(content string) *Mailmap {
	m := &Mailmap{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if entry, ok := parseMailmapLine(line); ok {
			m.entries = append(m.entries, entry)
		}
	}
	return m
}

func parseMailmapLine(line string) (mailmapEntry, bool) {
	var emails []string
	var textParts []string
	remaining := line

	for {
		open := strings.IndexByte(remaining, '<')
		if open == -1 {
			textParts = append(textParts, remaining)
			break
		}
		closeIdx := strings.IndexByte(remaining[open:], '>')
		if closeIdx == -1 {
			return mailmapEntry{}, false
		}
		closeIdx += open

		textParts = append(textParts, remaining[:open])
		emails = append(emails, strings.TrimSpace(remaining[open+1:closeIdx]))
		remaining = remaining[closeIdx+1:]
	}

	if len(emails) == 0 {
		return mailmapEntry{}, false
	}

	names := make([]string, len(textParts))
	for i, t := range textParts {
		names[i] = strings.TrimSpace(t)
	}

	var entry mailmapEntry
	switch len(emails) {
	case 1:
		entry.properName = names[0]
		entry.commitEmail = emails[0]
	case 2:
		name1, name2 := names[0], names[1]
		switch {
		case name1 == "" && name2 == "":
			entry.properEmail = emails[0]
			entry.commitEmail = emails[1]
		case name2 == "":
			entry.properName = name1
			entry.properEmail = emails[0]
			entry.commitEmail = emails[1]
		default:
			entry.properName = name1
			entry.properEmail = emails[0]
			entry.commitName = name2
			entry.commitEmail = emails[1]
		}
	default:
		return mailmapEntry{}, false
	}

	if entry.commitEmail == "" {
		return mailmapEntry{}, false
	}
	return entry, true
}

// Resolve applies the mailmap to sig in place, replacing Name and/or Email
// with the canonical values. Matching is case-insensitive on email and, when
// specified, on the commit name. The last matching entry wins, per
// git-mailmap(5) semantics.
func (m *Mailmap) Resolve(sig *commitgraph.Signature) {
	if m == nil || len(m.entries) == 0 {
		return
	}
	emailLower := strings.ToLower(sig.Email)
	nameLower := strings.ToLower(sig.Name)

	for _, e := range m.entries {
		if strings.ToLower(e.commitEmail) != emailLower {
			continue
		}
		if e.commitName != "" && strings.ToLower(e.commitName) != nameLower {
			continue
		}
		if e.properName != "" {
			sig.Name = e.properName
		}
		if e.properEmail != "" {
			sig.Email = e.properEmail
		}
	}
}

// loadMailmap reads .mailmap from the working directory, returning a nil
// Mailmap (a documented no-op for Resolve) if the file doesn't exist.
func loadMailmap(workDir string) (*Mailmap, error) {
	data, err := os.ReadFile(filepath.Join(workDir, ".mailmap"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return parseMailmap(string(data)), nil
}
