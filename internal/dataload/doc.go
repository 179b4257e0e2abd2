// Package dataload reads the input tables consumed by the forecasting and
// regional pipelines.
//
// Files are read as CSV through gota or, for .xlsx files, from the first
// worksheet through excelize. Every column is read as text and typed
// against the column contract of the table being loaded, so a malformed
// cell is reported with its file, column and row.
//
// A load either returns the complete table or an error. Absent files
// produce a FILE_MISSING error and malformed content a PARSING error;
// no partial result is returned.
package dataload
