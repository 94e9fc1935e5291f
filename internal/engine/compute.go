package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chatflow-io/chatflow/internal/model"
)

// Compute evaluates a closed, tagged computation kind over the user's
// input. Dispatch is a switch over known kinds: adding one is a deliberate
// code change, never data-driven code loading.
func Compute(kind model.ComputeKind, factor float64, input string) (float64, error) {
	switch kind {
	case model.ComputeLinear:
		n, err := strconv.Atoi(strings.TrimSpace(input))
		if err != nil {
			return 0, fmt.Errorf("linear measure %q: %w", input, err)
		}
		return factor * float64(n), nil

	case model.ComputeArea:
		parts := strings.Split(strings.ReplaceAll(input, " ", ""), "x")
		if len(parts) != 2 {
			return 0, fmt.Errorf("area measure %q: want WIDTHxDEPTH", input)
		}
		p1, err1 := strconv.Atoi(parts[0])
		p2, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return 0, fmt.Errorf("area measure %q: non-numeric dimension", input)
		}
		return factor * float64(p1) * float64(p2), nil

	default:
		return 0, fmt.Errorf("unknown compute kind %q", kind)
	}
}
