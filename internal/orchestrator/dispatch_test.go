package orchestrator

import "testing"

func TestIsShortVideoPath(t *testing.T) {
	cases := []struct {
		name     string
		duration float64
		visual   int
		speech   int
		want     bool
	}{
		{"short with visual rule and no speech", 5, 1, 0, true},
		{"short but no visual rules", 5, 0, 0, false},
		{"short but has speech rules", 5, 1, 1, false},
		{"long with visual rule", 30, 1, 0, false},
		{"exactly the boundary is not short", ShortVideoDuration.Seconds(), 1, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isShortVideoPath(tc.duration, tc.visual, tc.speech)
			if got != tc.want {
				t.Errorf("isShortVideoPath(%v,%v,%v) = %v, want %v", tc.duration, tc.visual, tc.speech, got, tc.want)
			}
		})
	}
}
