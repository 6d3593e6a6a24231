package diff

import (
	"fmt"
	"strings"
)

// FileStat summarizes one file patch without touching the filesystem.
type FileStat struct {
	Path    string
	Hunks   int
	Added   int
	Removed int
	Create  bool
	Delete  bool
}

// Stats counts hunks and line changes per file.
func Stats(patches []*FilePatch) []FileStat {
	stats := make([]FileStat, 0, len(patches))
	for _, p := range patches {
		st := FileStat{
			Path:   p.TargetPath(),
			Hunks:  len(p.Hunks),
			Create: p.IsCreate(),
			Delete: p.IsDelete(),
		}
		for _, h := range p.Hunks {
			for _, l := range h.Lines {
				switch l.Marker {
				case Add:
					st.Added++
				case Remove:
					st.Removed++
				}
			}
		}
		stats = append(stats, st)
	}
	return stats
}

// Preview renders a human-readable dry-run summary of the patch.
func Preview(patches []*FilePatch) string {
	if len(patches) == 0 {
		return "No changes.\n"
	}

	var sb strings.Builder
	totalAdded, totalRemoved := 0, 0
	for _, st := range Stats(patches) {
		label := "modify"
		if st.Create {
			label = "create"
		} else if st.Delete {
			label = "delete"
		}
		fmt.Fprintf(&sb, "%s %s: %d hunk(s), +%d -%d\n", label, st.Path, st.Hunks, st.Added, st.Removed)
		totalAdded += st.Added
		totalRemoved += st.Removed
	}
	fmt.Fprintf(&sb, "%d file(s), +%d -%d\n", len(patches), totalAdded, totalRemoved)
	return sb.String()
}
