package handler

import (
	"testing"

	"github.com/use-agent/quietpage/models"
)

func TestPoolStatus(t *testing.T) {
	cases := []struct {
		stats models.PoolStats
		want  string
	}{
		{models.PoolStats{MaxPages: 10, ActivePages: 0}, "healthy"},
		{models.PoolStats{MaxPages: 10, ActivePages: 8}, "healthy"},
		{models.PoolStats{MaxPages: 10, ActivePages: 9}, "degraded"},
		{models.PoolStats{MaxPages: 0, ActivePages: 3}, "healthy"},
	}
	for _, tc := range cases {
		if got := poolStatus(tc.stats); got != tc.want {
			t.Errorf("%+v: status = %q, want %q", tc.stats, got, tc.want)
		}
	}
}
