// Package forecast prepares observed series for saturating-growth
// forecasting and fits them through a pluggable Model.
//
// The pipeline is:
//
//	bounded, err := forecast.Prepare(observed)      // cap = 1.2 x max, floor = 0
//	fitted, err := model.Fit(ctx, bounded, params)  // Params are injectable
//	fc, err := model.Predict(ctx, fitted, 24)       // len(observed)+24 points
//
// LogisticModel is the built-in backend. It fits a piecewise-linear trend
// with changepoints and yearly Fourier seasonality in logit space, solved
// as a ridge-penalized least squares problem with gonum.
//
// Tune grid-searches prior scales on a holdout split and GenerateScenario
// simulates future months from per-calendar-month statistics.
package forecast
