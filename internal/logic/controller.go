package logic

// Evaluate applies one input sample to the controller state and returns the
// new state and the decision for the sink.
//
// The SOC permit is a two-threshold latch: it is granted once SOC reaches
// SocStart and revoked once SOC falls to SocStop, so values between the two
// never change it. While permitted, the heater follows power > PowerThreshold.
// A disabled controller forces the heater off but leaves the permit alone.
func Evaluate(cfg Config, state State, in Sample) (State, Decision) {
	next := state

	if !in.Enabled {
		next.HeaterOn = false
	} else {
		next.SocPermit, next.HeaterOn = permit(cfg, state.SocPermit, state.HeaterOn, in.StateOfCharge)
		if next.SocPermit {
			next.HeaterOn = in.Power > cfg.PowerThreshold
		}
	}

	current := Triple{Enabled: in.Enabled, SocPermit: next.SocPermit, HeaterOn: next.HeaterOn}
	note := notify(state, current)

	next.Last = current
	next.Observed = true

	return next, Decision{Output: outputFor(next.HeaterOn), Notification: note}
}

// Initial returns the state a session starts with: no permit, heater off,
// nothing observed yet.
func Initial() State {
	return State{}
}

// permit runs the SOC latch. Revoking the permit also switches the heater off.
func permit(cfg Config, permitted, heaterOn bool, soc float64) (bool, bool) {
	if !permitted {
		if soc >= cfg.SocStart {
			return true, heaterOn
		}
		return false, heaterOn
	}
	if soc <= cfg.SocStop {
		return false, false
	}
	return true, heaterOn
}

// notify compares the new triple with the previous one and returns the
// notification to emit, if any.
func notify(prev State, cur Triple) *Notification {
	first := !prev.Observed
	last := prev.Last

	enabledChanged := first || last.Enabled != cur.Enabled
	permitChanged := first || last.SocPermit != cur.SocPermit
	heaterChanged := first || last.HeaterOn != cur.HeaterOn

	switch {
	case !cur.Enabled:
		if enabledChanged {
			return &Notification{Kind: NotifyStandingBy}
		}
	case cur.HeaterOn:
		if enabledChanged || heaterChanged {
			return &Notification{Kind: NotifyOn}
		}
	default:
		if enabledChanged || permitChanged || heaterChanged {
			reason := ReasonSocTooLow
			if cur.SocPermit {
				reason = ReasonPowerTooLow
			}
			return &Notification{Kind: NotifyOff, Reason: reason}
		}
	}
	return nil
}

func outputFor(on bool) int {
	if on {
		return OutputOn
	}
	return OutputOff
}
