package vision

// scalarKalman is a 1-D constant-velocity Kalman filter over a single
// scalar measurement (e.g. box center-x, or box width). The prototype's
// tracker runs one 8-state filter over [x,y,w,h,vx,vy,vw,vh] with
// diagonal process/measurement noise; because both the transition and
// noise matrices are block-diagonal per coordinate, four independent
// 2-state filters (this type, one per coordinate) produce identical
// estimates with none of the matrix bookkeeping.
type scalarKalman struct {
	pos, vel     float64
	pVarPos      float64
	pVarVel      float64
	pCovPosVel   float64
	processNoise float64
	measNoise    float64
	initialized  bool
}

func newScalarKalman(processNoise, measNoise float64) *scalarKalman {
	return &scalarKalman{processNoise: processNoise, measNoise: measNoise}
}

// Init seeds the filter at an observed value with zero velocity and a
// wide initial covariance, matching the prototype's statePost init.
func (k *scalarKalman) Init(v float64) {
	k.pos = v
	k.vel = 0
	k.pVarPos = 1
	k.pVarVel = 1
	k.pCovPosVel = 0
	k.initialized = true
}

// Update predicts one tick forward under the constant-velocity model
// then corrects with measurement z, returning the smoothed position.
func (k *scalarKalman) Update(z float64) float64 {
	if !k.initialized {
		k.Init(z)
		return z
	}

	// Predict: pos' = pos + vel, vel' = vel.
	predPos := k.pos + k.vel
	predVel := k.vel

	predPVarPos := k.pVarPos + 2*k.pCovPosVel + k.pVarVel + k.processNoise
	predPCovPosVel := k.pCovPosVel + k.pVarVel
	predPVarVel := k.pVarVel + k.processNoise

	// Correct against measurement z (H = [1, 0]).
	innovation := z - predPos
	s := predPVarPos + k.measNoise
	if s == 0 {
		s = 1e-9
	}
	kGainPos := predPVarPos / s
	kGainVel := predPCovPosVel / s

	k.pos = predPos + kGainPos*innovation
	k.vel = predVel + kGainVel*innovation

	k.pVarPos = (1 - kGainPos) * predPVarPos
	k.pCovPosVel = (1 - kGainPos) * predPCovPosVel
	k.pVarVel = predPVarVel - kGainVel*predPCovPosVel

	return k.pos
}

// Velocity returns the filter's current velocity estimate.
func (k *scalarKalman) Velocity() float64 { return k.vel }

// Reset clears filter state so the next Update reinitializes cleanly.
func (k *scalarKalman) Reset() { *k = scalarKalman{processNoise: k.processNoise, measNoise: k.measNoise} }
