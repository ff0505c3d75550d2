// Package engines holds the collaborator contracts for external extraction
// and reasoning services, plus the local engines that satisfy the same
// contract without a network hop (plain text, spreadsheet grids).
//
// The core never inspects engine internals: every engine yields an
// EngineResult of raw text, optional table grids and an optional
// confidence, and the reasoning service is a black box that returns
// schema-constrained JSON.
package engines
