package smoothing

import (
	"fmt"
	"strings"
)

// EasingFunc maps normalized progress in [0,1] to eased progress in
// [0,1]. Every registered function is monotonic with f(0)=0, f(1)=1,
// so easing reshapes a step but never reverses its direction.
type EasingFunc func(t float64) float64

var easings = map[string]EasingFunc{
	"linear": func(t float64) float64 { return t },
	"ease-in-quad": func(t float64) float64 {
		return t * t
	},
	"ease-out-quad": func(t float64) float64 {
		return t * (2 - t)
	},
	"ease-in-out-cubic": func(t float64) float64 {
		if t < 0.5 {
			return 4 * t * t * t
		}
		u := -2*t + 2
		return 1 - u*u*u/2
	},
}

// EasingByName resolves a configured easing function name.
func EasingByName(name string) (EasingFunc, error) {
	fn, ok := easings[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown easing function %q", name)
	}
	return fn, nil
}
