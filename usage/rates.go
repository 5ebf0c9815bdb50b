package usage

import "fmt"

// Rate is the price of one million tokens for a model.
type Rate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// RateTable maps model names to pricing. An unrecognized model is zero-cost
// with known=false rather than an error, so missing pricing never blocks a
// conversation.
type RateTable map[string]Rate

// Cost computes the dollar cost of a snapshot for the given model. known is
// false when the model has no pricing entry or the snapshot is nil.
func (t RateTable) Cost(model string, s *Snapshot) (cost float64, known bool) {
	if s == nil {
		return 0, false
	}
	rate, ok := t[model]
	if !ok {
		return 0, false
	}
	cost = float64(s.InputTokens)/1e6*rate.InputPerMTok +
		float64(s.OutputTokens)/1e6*rate.OutputPerMTok
	return cost, true
}

// FormatTokens renders a token count with K/M suffixes for display.
func FormatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return trimZero(fmt.Sprintf("%.1f", float64(n)/1_000_000)) + "M"
	case n >= 1_000:
		return trimZero(fmt.Sprintf("%.1f", float64(n)/1_000)) + "K"
	default:
		return fmt.Sprintf("%d", n)
	}
}

func trimZero(s string) string {
	if len(s) > 2 && s[len(s)-2:] == ".0" {
		return s[:len(s)-2]
	}
	return s
}
