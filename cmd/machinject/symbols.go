package main

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"gitlab.com/stephen-fox/machinject/memory"
	"gitlab.com/stephen-fox/machinject/payload"
)

// parseSymbols parses NAME=0xADDR pairs into a SymbolTable.
// Addresses are big endian hex, as printed by nm and lldb.
func parseSymbols(args []string) (*payload.SymbolTable, error) {
	known := make(map[string]bool)
	for _, symbol := range payload.RuntimeSymbols() {
		known[symbol] = true
	}

	pm := memory.PointerMakerForX86_64()
	table := payload.NewSymbolTable()

	for _, arg := range args {
		name, hexAddr, hasSep := strings.Cut(arg, "=")
		if !hasSep || name == "" || hexAddr == "" {
			return nil, errors.Errorf("symbol override must be NAME=0xADDR - got %q", arg)
		}

		if !known[name] {
			return nil, errors.Errorf("unknown symbol %q - expected one of: %s",
				name, strings.Join(payload.RuntimeSymbols(), ", "))
		}

		pointer, err := pm.FromHexString(hexAddr, binary.BigEndian)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse address for %s", name)
		}

		table.Set(name, pointer.Uint())
	}

	return table, nil
}
