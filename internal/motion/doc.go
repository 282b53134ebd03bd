// Package motion owns the linear motion model shared by the trajectory
// simulator and the Kalman estimator.
//
// Responsibilities: building the state-transition (F), noise-input (G),
// measurement (H), process-noise (Q) and measurement-noise (R) matrices,
// and validating that their shapes agree.
// Key types: Model, CVParams, ConfigurationError.
//
// Positions are taken to be metres and Ts seconds, so velocities are m/s.
// Nothing in the model depends on it; reports and speed labels assume it.
//
// A Model is built once per run and handed by pointer to both the
// simulator and the estimator. It is read-only after construction: all
// accessors return copies, so sharing a Model across components cannot
// let one of them change the process the other one assumes.
package motion
