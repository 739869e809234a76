// Package errors provides the structured, terminal-friendly errors
// the CLI surfaces.
//
// A CLIError carries a category, an optional detail paragraph, and a
// fix suggestion rendered as a hint. Engine packages keep their own
// sentinel and typed errors; this package only dresses failures for
// people at a terminal.
//
// # Usage
//
//	err := errors.New(errors.CategoryConfig, "cannot read skylight.json").
//	    WithDetail("No skylight.json found in /srv/app").
//	    WithSuggestion("Create one with 'skylight init' or pass --config")
//
//	errors.PrintError(err)
//	// Output:
//	// ERROR config: cannot read skylight.json
//	//
//	//   No skylight.json found in /srv/app
//	//
//	//   Hint: Create one with 'skylight init' or pass --config
package errors
