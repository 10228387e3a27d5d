package agentloop

import "fmt"

// DefaultLoopWindow is how many recent actions are compared.
const DefaultLoopWindow = 6

// DetectLoop reports whether the last window signatures repeat with a
// period of 1, 2 or 3 that divides the window and is shorter than it.
func DetectLoop(sigs []string, window int) bool {
	if window <= 0 || len(sigs) < window {
		return false
	}
	tail := sigs[len(sigs)-window:]
	for period := 1; period <= 3 && period < window; period++ {
		if window%period == 0 && repeatsWithPeriod(tail, period) {
			return true
		}
	}
	return false
}

func repeatsWithPeriod(sigs []string, period int) bool {
	for i := period; i < len(sigs); i++ {
		if sigs[i] != sigs[i-period] {
			return false
		}
	}
	return true
}

func loopWarning(window int) string {
	return fmt.Sprintf("WARNING: your last %d actions repeat the same pattern and are not making progress. "+
		"Stop and reconsider: read the relevant file again, try a different approach, or HALT if the work is done.", window)
}
