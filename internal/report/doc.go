// Package report renders download history.
//
// SimpleWriter prints a terminal summary, MarkdownWriter produces a
// shareable document with an outcome chart, and JSONWriter emits a
// machine-readable history. All of them implement Writer; MultiWriter fans
// one history out to several writers.
package report
