// Package evaluation scores forecasts against observed values.
//
// Evaluate inner-joins a forecast and an observed series on timestamp and
// reports MAE, MSE, RMSE and MAPE. Rows present on only one side are
// dropped, never imputed. How zero actuals are treated by MAPE is chosen
// by a ZeroActualPolicy.
package evaluation
