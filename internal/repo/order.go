package repo

import (
	"strings"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
)

// OrderTools returns the tools found in byID in the order of ids, skipping ids
// that were not found.
func OrderTools(ids []string, byID map[string]domain.Tool) []domain.Tool {
	out := make([]domain.Tool, 0, len(ids))
	for _, id := range ids {
		if tool, ok := byID[strings.TrimSpace(id)]; ok {
			out = append(out, tool)
		}
	}
	return out
}
