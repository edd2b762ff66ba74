// Package pipeline runs one spike-sorting pass over a recording session:
// artifact injection, preprocessing, sorting, duplicate removal and
// analysis, strictly in that order.
//
// The package is the composition root. It depends on the stage packages
// (preprocess, sorting, curation, analyzer) through small interfaces, and
// none of those packages import pipeline.
package pipeline
