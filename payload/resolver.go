package payload

import (
	"sort"

	"github.com/pkg/errors"
)

const (
	PthreadSetSelfSymbol = "_pthread_set_self"
	DlopenSymbol         = "dlopen"
	MachThreadSelfSymbol = "mach_thread_self"
	ThreadSuspendSymbol  = "thread_suspend"

	// LibraryPathName names the placeholder holding the remote
	// address of the library path string.
	LibraryPathName = "library_path"
)

// RuntimeSymbols returns the names of the functions called by the
// code cave.
func RuntimeSymbols() []string {
	return []string{
		PthreadSetSelfSymbol,
		DlopenSymbol,
		MachThreadSelfSymbol,
		ThreadSuspendSymbol,
	}
}

// ErrSymbolNotFound is returned by a Resolver that does not know
// a symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// Resolver maps a symbol name to its absolute address in the target.
//
// TODO: Add a Resolver that walks the target's image list through
// task_info(TASK_DYLD_INFO) instead of trusting the local addresses.
type Resolver interface {
	Resolve(symbol string) (uint64, error)
}

// NewSymbolTable creates an empty *SymbolTable.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		symbolsToAddrs: make(map[string]uint64),
	}
}

// SymbolTable is a Resolver backed by a fixed set of addresses.
//
// It is useful when the addresses of the runtime functions in the
// target are known ahead of time, for example when they were read
// from the target's own image list, or when building a code cave
// offline for inspection.
type SymbolTable struct {
	symbolsToAddrs map[string]uint64
}

// Set adds or sets the address of a symbol.
func (o *SymbolTable) Set(symbol string, address uint64) *SymbolTable {
	o.symbolsToAddrs[symbol] = address
	return o
}

// Delete removes a symbol.
func (o *SymbolTable) Delete(symbol string) *SymbolTable {
	delete(o.symbolsToAddrs, symbol)
	return o
}

// Symbols returns the table's symbol names in sorted order.
func (o *SymbolTable) Symbols() []string {
	symbols := make([]string, 0, len(o.symbolsToAddrs))
	for symbol := range o.symbolsToAddrs {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	return symbols
}

func (o *SymbolTable) Resolve(symbol string) (uint64, error) {
	addr, hasIt := o.symbolsToAddrs[symbol]
	if !hasIt {
		return 0, errors.Wrapf(ErrSymbolNotFound, "%q is not in the symbol table", symbol)
	}

	return addr, nil
}

// Resolvers tries each Resolver in order and returns the first
// address found. Only ErrSymbolNotFound moves on to the next
// Resolver; any other error is returned immediately.
type Resolvers []Resolver

func (o Resolvers) Resolve(symbol string) (uint64, error) {
	for _, resolver := range o {
		addr, err := resolver.Resolve(symbol)
		if err == nil {
			return addr, nil
		}

		if !errors.Is(err, ErrSymbolNotFound) {
			return 0, err
		}
	}

	return 0, errors.Wrapf(ErrSymbolNotFound, "no resolver knows %q", symbol)
}
