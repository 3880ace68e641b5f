package tracking

import (
	"time"
)

// PointFilter is a 2D constant-velocity Kalman filter over a track's
// centroid. It exists to give the prediction path a less noisy
// velocity estimate than raw finite differences. All time comes from
// frame timestamps, never the wall clock, so identical input
// sequences produce identical output.
type PointFilter struct {
	// state vector [x, y, vx, vy]
	state [4]float64
	// covariance
	P [4][4]float64
	// process noise
	Q [4][4]float64
	// measurement noise
	R [2][2]float64

	lastUpdate  time.Time
	initialized bool
}

// NewPointFilter creates a filter tuned for pixel-scale motion.
func NewPointFilter() *PointFilter {
	pf := &PointFilter{}

	for i := 0; i < 4; i++ {
		pf.P[i][i] = 1000.0 // high initial uncertainty
	}

	dt := 0.016 // expected frame interval
	q := 0.1
	pf.Q = [4][4]float64{
		{q * dt * dt * dt * dt / 4, 0, q * dt * dt * dt / 2, 0},
		{0, q * dt * dt * dt * dt / 4, 0, q * dt * dt * dt / 2},
		{q * dt * dt * dt / 2, 0, q * dt * dt, 0},
		{0, q * dt * dt * dt / 2, 0, q * dt * dt},
	}

	pf.R = [2][2]float64{
		{10.0, 0},
		{0, 10.0},
	}

	return pf
}

// Ready reports whether at least one measurement has been absorbed.
func (pf *PointFilter) Ready() bool { return pf.initialized }

// Update absorbs a centroid measurement taken at ts and returns the
// filtered position and velocity.
func (pf *PointFilter) Update(x, y float64, ts time.Time) (float64, float64, float64, float64) {
	if !pf.initialized {
		pf.state = [4]float64{x, y, 0, 0}
		pf.initialized = true
		pf.lastUpdate = ts
		return x, y, 0, 0
	}

	dt := ts.Sub(pf.lastUpdate).Seconds()
	if dt < 0.001 {
		dt = 0.001
	}
	pf.lastUpdate = ts

	F := [4][4]float64{
		{1, 0, dt, 0},
		{0, 1, 0, dt},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}

	predicted := [4]float64{
		pf.state[0] + pf.state[2]*dt,
		pf.state[1] + pf.state[3]*dt,
		pf.state[2],
		pf.state[3],
	}
	newP := pf.predictCovariance(F)

	H := [2][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}
	innovation := [2]float64{
		x - predicted[0],
		y - predicted[1],
	}
	S := innovationCovariance(H, newP, pf.R)
	K := kalmanGain(H, newP, S)

	for i := 0; i < 4; i++ {
		pf.state[i] = predicted[i] + K[0][i]*innovation[0] + K[1][i]*innovation[1]
	}
	pf.updateCovariance(K, H, newP)

	return pf.state[0], pf.state[1], pf.state[2], pf.state[3]
}

// Predict extrapolates the position forward by the lookahead without
// mutating filter state.
func (pf *PointFilter) Predict(lookahead time.Duration) (float64, float64) {
	if !pf.initialized {
		return 0, 0
	}
	dt := lookahead.Seconds()
	return pf.state[0] + pf.state[2]*dt, pf.state[1] + pf.state[3]*dt
}

// Velocity returns the current velocity estimate.
func (pf *PointFilter) Velocity() (float64, float64) {
	if !pf.initialized {
		return 0, 0
	}
	return pf.state[2], pf.state[3]
}

func (pf *PointFilter) predictCovariance(F [4][4]float64) [4][4]float64 {
	var newP [4][4]float64
	// P = F * P * F' + Q
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				for l := 0; l < 4; l++ {
					sum += F[i][k] * pf.P[k][l] * F[j][l]
				}
			}
			newP[i][j] = sum + pf.Q[i][j]
		}
	}
	return newP
}

func innovationCovariance(H [2][4]float64, P [4][4]float64, R [2][2]float64) [2][2]float64 {
	var S [2][2]float64
	// S = H * P * H' + R
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				for l := 0; l < 4; l++ {
					sum += H[i][k] * P[k][l] * H[j][l]
				}
			}
			S[i][j] = sum + R[i][j]
		}
	}
	return S
}

func kalmanGain(H [2][4]float64, P [4][4]float64, S [2][2]float64) [2][4]float64 {
	var K [2][4]float64
	// K = P * H' * inv(S), diagonal approximation
	for i := 0; i < 2; i++ {
		for j := 0; j < 4; j++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				for l := 0; l < 2; l++ {
					sum += P[j][k] * H[l][k] * (1.0 / S[i][i])
				}
			}
			K[i][j] = sum
		}
	}
	return K
}

func (pf *PointFilter) updateCovariance(K [2][4]float64, H [2][4]float64, P [4][4]float64) {
	// P = (I - K*H) * P
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			sum := 0.0
			for k := 0; k < 2; k++ {
				for l := 0; l < 4; l++ {
					sum += K[k][i] * H[k][l] * P[l][j]
				}
			}
			pf.P[i][j] = P[i][j] - sum
		}
	}
}
