package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/stevedomin/termtable"
	"gitlab.com/stephen-fox/machinject/inject"
)

var outcomePrefixes = map[inject.Outcome]string{
	inject.InvalidParameters:         "Bad parameters: ",
	inject.InvalidTarget:             "Invalid pid: ",
	inject.LibraryPathAllocateFailed: "Couldn't allocate space for dylib: ",
	inject.LibraryPathWriteFailed:    "Couldn't write dylib path into memory: ",
	inject.StackAllocateFailed:       "Couldn't allocate space for the stack: ",
	inject.StackProtectFailed:        "Couldn't protect the stack: ",
	inject.PayloadAssembleFailed:     "Couldn't assemble the code: ",
	inject.PayloadAllocateFailed:     "Couldn't allocate space for the code: ",
	inject.PayloadWriteFailed:        "Couldn't write code into memory: ",
	inject.PayloadProtectFailed:      "Couldn't protect the code: ",
	inject.ThreadCreateFailed:        "Couldn't create remote thread: ",
}

// describeFailure returns a single line describing err. Failures that
// carry a kernel status end with the status text. Bad parameters are
// reported with the prefix alone.
func describeFailure(err error) string {
	var injectErr *inject.Error
	if !errors.As(err, &injectErr) {
		return "Error: " + err.Error()
	}

	prefix, ok := outcomePrefixes[injectErr.Outcome]
	if !ok {
		prefix = injectErr.Outcome.String() + ": "
	}

	if injectErr.Outcome == inject.InvalidParameters {
		return strings.TrimSuffix(prefix, " ")
	}

	if injectErr.HasStatus {
		return prefix + injectErr.Status.Error()
	}

	return prefix + injectErr.Err.Error()
}

func describeSuccess(result inject.Result) string {
	t := termtable.NewTable(nil, &termtable.TableOptions{
		Padding:      2,
		UseSeparator: true,
	})

	t.SetHeader([]string{"Region", "Address", "Size"})

	for _, region := range result.Regions() {
		t.AddRow([]string{
			string(region.Purpose),
			region.Address.String(),
			fmt.Sprintf("0x%x", region.Size),
		})
	}

	var b strings.Builder
	b.WriteString("Injection successful.\n")
	b.WriteString(t.Render())
	b.WriteString("\n")

	return b.String()
}
