package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name      string
		args      []any
		opts      domain.ListOpts
		wantQuery string
		wantArgs  int
	}{
		{
			name:      "no filters",
			opts:      domain.ListOpts{},
			wantQuery: "SELECT x FROM t WHERE 1=1 ORDER BY created_at DESC",
		},
		{
			name:      "window and paging",
			opts:      domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20},
			wantQuery: "SELECT x FROM t WHERE 1=1 AND created_at >= $1 AND created_at <= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4",
			wantArgs:  4,
		},
		{
			name:      "continues numbering after base args",
			args:      []any{"COMPLETED"},
			opts:      domain.ListOpts{Limit: 5},
			wantQuery: "SELECT x FROM t WHERE 1=1 ORDER BY created_at DESC LIMIT $2",
			wantArgs:  2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, args := listQuery("SELECT x FROM t WHERE 1=1", tc.args, "created_at", "DESC", tc.opts)
			assert.Equal(t, tc.wantQuery, q)
			assert.Len(t, args, tc.wantArgs)
		})
	}
}
