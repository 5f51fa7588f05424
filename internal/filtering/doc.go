// Package filtering turns a noisy per-time-step brightness curve into a
// retained observation set and a single likelihood score.
//
// Responsibilities: curve construction from psi/phi samples, the weighted
// signal-to-noise likelihood, sigma-G percentile clipping, the multi-pass
// Kalman filter, and the Strategy wrapper that lets a search pick one of
// them per run.
// Key types: Curve, Result, Strategy, SigmaGParams, KalmanParams.
//
// Dependency rule: pure functions over slices. No image, pyramid or
// search types are imported here, so every search backend scores with the
// same code.
package filtering
