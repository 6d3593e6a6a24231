// Package history journals committed transactions so the most recent one
// can be reverted. The journal is a plain text file of blank-line
// separated entries under <root>/.patchtx/.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sokinpui/patchtx/internal/fs"
)

const (
	dirName  = ".patchtx"
	fileName = "journal"
)

// Op records one file operation inside a committed transaction.
type Op struct {
	Path   string
	Action string // "create", "modify" or "delete"
	Hash   string // SHA256 of the file after the operation; empty for delete
	Backup string // retained backup artifact, empty when none exists
}

// Entry is one committed transaction.
type Entry struct {
	Timestamp int64
	Ops       []Op
}

// Manager owns the journal file.
type Manager struct {
	journalPath string
	entries     []Entry
}

// Open loads the journal under root, creating the directory if needed.
func Open(root string) (*Manager, error) {
	dir := filepath.Join(root, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	m := &Manager{journalPath: filepath.Join(dir, fileName)}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		ts, err := strconv.ParseInt(lines[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid journal: bad timestamp %q: %w", lines[0], err)
		}
		entry := Entry{Timestamp: ts}
		opLines := lines[1:]
		if len(opLines)%4 != 0 {
			return fmt.Errorf("invalid journal: incomplete operation record")
		}
		for i := 0; i < len(opLines); i += 4 {
			entry.Ops = append(entry.Ops, Op{
				Action: opLines[i],
				Path:   opLines[i+1],
				Hash:   unfield(opLines[i+2]),
				Backup: unfield(opLines[i+3]),
			})
		}
		m.entries = append(m.entries, entry)
	}
	return nil
}

func (m *Manager) save() error {
	var blocks []string
	for _, entry := range m.entries {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d\n", entry.Timestamp)
		lines := make([]string, 0, len(entry.Ops)*4)
		for _, op := range entry.Ops {
			lines = append(lines, op.Action, op.Path, field(op.Hash), field(op.Backup))
		}
		sb.WriteString(strings.Join(lines, "\n"))
		blocks = append(blocks, sb.String())
	}
	return os.WriteFile(m.journalPath, []byte(strings.Join(blocks, "\n\n")), 0644)
}

// Empty values are stored as "-" so every record keeps its fixed line
// count when it lands at the end of a block.
func field(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func unfield(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// Record appends a committed transaction to the journal.
func (m *Manager) Record(ops []Op) error {
	m.entries = append(m.entries, Entry{
		Timestamp: time.Now().UTC().Unix(),
		Ops:       ops,
	})
	return m.save()
}

// Last returns the most recent entry, or nil when the journal is empty.
func (m *Manager) Last() *Entry {
	if len(m.entries) == 0 {
		return nil
	}
	return &m.entries[len(m.entries)-1]
}

// RevertLast undoes the most recent entry and drops it from the journal.
// Files are verified against their recorded hashes before anything is
// touched; a modified file aborts the revert.
func (m *Manager) RevertLast() ([]string, error) {
	entry := m.Last()
	if entry == nil {
		return nil, fmt.Errorf("nothing to revert")
	}

	for _, op := range entry.Ops {
		if op.Action == "delete" {
			continue
		}
		hash, err := fs.SHA256(op.Path)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", op.Path, err)
		}
		if op.Hash != "" && hash != op.Hash {
			return nil, fmt.Errorf("%s was modified since it was patched, refusing to revert", op.Path)
		}
	}

	var reverted []string
	for _, op := range entry.Ops {
		switch op.Action {
		case "create":
			if err := os.Remove(op.Path); err != nil && !os.IsNotExist(err) {
				return reverted, fmt.Errorf("remove %s: %w", op.Path, err)
			}
		case "modify", "delete":
			if op.Backup == "" {
				return reverted, fmt.Errorf("no backup retained for %s, cannot revert", op.Path)
			}
			if err := fs.EnsureParentDir(op.Path); err != nil {
				return reverted, err
			}
			if err := fs.CopyFile(op.Backup, op.Path); err != nil {
				return reverted, fmt.Errorf("restore %s: %w", op.Path, err)
			}
		default:
			return reverted, fmt.Errorf("unknown journal action %q", op.Action)
		}
		reverted = append(reverted, op.Path)
	}

	m.entries = m.entries[:len(m.entries)-1]
	return reverted, m.save()
}
