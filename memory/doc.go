// Package memory provides functionality for encoding memory addresses.
//
// A PointerMaker converts between integer addresses and their raw,
// in-memory representation on a given platform. The payload package
// relies on it to patch addresses into code caves using the target's
// native pointer width and byte order, and to read them back out.
//
// This API is heavily influenced by the 'pwntools' Python library.
package memory
