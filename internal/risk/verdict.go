package risk

// Code identifies which check produced a verdict. The first failing code is
// the authoritative rejection reason recorded on the signal.
type Code string

const (
	CodeKillSwitch   Code = "kill_switch"
	CodeMarketWindow Code = "market_window"
	CodeConfidence   Code = "confidence"
	CodePositionSize Code = "position_size"
	CodeDailyLoss    Code = "daily_loss"
	CodeDrawdown     Code = "drawdown"
	CodeMargin       Code = "margin"
	CodeAnomaly      Code = "anomaly"
)

// Verdict is the outcome of one check.
type Verdict struct {
	Code   Code   `json:"code"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

func pass(code Code) Verdict {
	return Verdict{Code: code, Passed: true}
}

func reject(code Code, reason string) Verdict {
	return Verdict{Code: code, Passed: false, Reason: reason}
}

// Approved reports whether every evaluated verdict passed.
func Approved(verdicts []Verdict) bool {
	if len(verdicts) == 0 {
		return false
	}
	for _, v := range verdicts {
		if !v.Passed {
			return false
		}
	}
	return true
}

// FirstRejection returns the failing verdict, if any.
func FirstRejection(verdicts []Verdict) (Verdict, bool) {
	for _, v := range verdicts {
		if !v.Passed {
			return v, true
		}
	}
	return Verdict{}, false
}
