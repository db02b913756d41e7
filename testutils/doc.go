// Package testutils provides helpers shared by the test suites of the
// compiler, the extensions and the services built on them.
//
// Key components:
//   - Harness: compiles, loads, runs and dumps scripts against a registry
//     holding the core commands and a chosen set of extensions
//   - Message: an in-memory message for script runs
//
// Example usage:
//
//	func TestMyExtension(t *testing.T) {
//		h := testutils.NewHarness(t, myext.Register)
//		res := h.Run(`require "myext"; ...`, testutils.Env(nil))
//		// Inspect res...
//	}
package testutils
