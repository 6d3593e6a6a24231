// Package backup snapshots file content before mutation so a transaction
// can roll back to the exact pre-transaction bytes. Snapshots live in
// sibling .bak[.N] files; restoration is byte-for-byte, with no newline
// translation or re-encoding.
package backup

import (
	"fmt"
	"os"

	"github.com/sokinpui/patchtx/internal/fs"
)

// Backup records one file's pre-transaction state. A file that did not
// exist yet is recorded as "no prior content", so restoring it means
// deleting the file again.
type Backup struct {
	path       string
	backupPath string
	existed    bool
}

// Snapshot captures the current state of path. The .bak suffix gains an
// incrementing .N when a previous backup artifact is already in the way.
func Snapshot(path string) (*Backup, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Backup{path: path}, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	backupPath := path + ".bak"
	for n := 1; ; n++ {
		if _, err := os.Stat(backupPath); os.IsNotExist(err) {
			break
		}
		backupPath = fmt.Sprintf("%s.bak.%d", path, n)
	}

	if err := fs.CopyFile(path, backupPath); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return &Backup{path: path, backupPath: backupPath, existed: true}, nil
}

// Path returns the file the backup protects.
func (b *Backup) Path() string { return b.path }

// BackupPath returns the .bak artifact, or "" when no prior content existed.
func (b *Backup) BackupPath() string { return b.backupPath }

// Existed reports whether the file had prior content when snapshotted.
func (b *Backup) Existed() bool { return b.existed }

// Restore puts the original bytes back, or removes the file when it had no
// prior content.
func (b *Backup) Restore() error {
	if !b.existed {
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove created file %s: %w", b.path, err)
		}
		return nil
	}
	if err := fs.CopyFile(b.backupPath, b.path); err != nil {
		return fmt.Errorf("restore %s: %w", b.path, err)
	}
	return nil
}

// Discard removes the .bak artifact. Safe to call for "no prior content"
// backups and after the artifact is already gone.
func (b *Backup) Discard() error {
	if b.backupPath == "" {
		return nil
	}
	if err := os.Remove(b.backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard backup %s: %w", b.backupPath, err)
	}
	return nil
}
