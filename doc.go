// Package machinject provides functionality for loading a dynamic library
// into a running Mach task.
//
// APIs are separated into subpackages, and documented accordingly.
// The inject package is the entry point. The mach package wraps the
// kernel primitives, and the payload package builds the code cave that
// the remote thread executes.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package machinject
