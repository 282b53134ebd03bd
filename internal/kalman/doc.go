// Package kalman implements the discrete-time linear Kalman estimator.
//
// Responsibilities: holding the state estimate x and covariance P, running
// the predict/update recursion, and detecting innovation covariances that
// cannot be inverted.
// Key types: Estimator, Estimate, NumericalError.
//
// Step is the only way to consume a measurement. It predicts and then
// updates, so a measurement can never be applied twice to the same prior
// and a predict can never be left without its update. Coast advances the
// filter when a step has no usable measurement.
//
// An Estimator is not safe for concurrent use. Callers that share one across
// goroutines must synchronise externally.
package kalman
