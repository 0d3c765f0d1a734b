package main

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gitlab.com/stephen-fox/machinject/asmkit"
	"gitlab.com/stephen-fox/machinject/memory"
	"gitlab.com/stephen-fox/machinject/payload"
)

const (
	prettyFormat = "pretty"
	goFormat     = "go"
	hexFormat    = "hex"
)

func newPayloadCmd() *cobra.Command {
	var (
		format      string
		syntax      string
		libraryPath string
	)

	cmd := &cobra.Command{
		Use:   "payload [" + string(payload.X86_32) + "|" + string(payload.X86_64) + "]",
		Short: "Print the code cave written into targets",
		Long: `Print the code cave written into targets.

Placeholders are left zero-filled unless an address is supplied with
--symbol or --library-path. The architecture defaults to the one the
program was built for.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := payload.Native()
			if len(args) == 1 {
				template, err = payload.TemplateFor(payload.Arch(args[0]))
			}
			if err != nil {
				return err
			}

			patches, err := dumpPatchSet(symbolFlags, libraryPath)
			if err != nil {
				return err
			}

			code, err := payload.Patch(template, patches)
			if err != nil {
				return err
			}

			return writePayload(os.Stdout, template, code, format, syntax)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", prettyFormat,
		"Output format ("+prettyFormat+", "+goFormat+", "+hexFormat+")")
	cmd.Flags().StringVarP(&syntax, "syntax", "s", string(asmkit.IntelSyntax),
		"Assembly syntax (intel, att, go)")
	cmd.Flags().StringVar(&libraryPath, "library-path", "",
		"Remote address of the library path string (0xADDR)")

	return cmd
}

// dumpPatchSet builds a PatchSet from the --symbol overrides. Anything
// not overridden stays zero.
func dumpPatchSet(symbolArgs []string, libraryPathArg string) (payload.PatchSet, error) {
	table, err := parseSymbols(symbolArgs)
	if err != nil {
		return payload.PatchSet{}, err
	}

	var patches payload.PatchSet

	lookup := func(symbol string) uint64 {
		addr, err := table.Resolve(symbol)
		if err != nil {
			return 0
		}
		return addr
	}

	patches.PthreadSetSelf = lookup(payload.PthreadSetSelfSymbol)
	patches.Dlopen = lookup(payload.DlopenSymbol)
	patches.MachThreadSelf = lookup(payload.MachThreadSelfSymbol)
	patches.ThreadSuspend = lookup(payload.ThreadSuspendSymbol)

	if libraryPathArg != "" {
		pointer, err := memory.PointerMakerForX86_64().FromHexString(libraryPathArg, binary.BigEndian)
		if err != nil {
			return payload.PatchSet{}, errors.Wrap(err, "failed to parse library path address")
		}

		patches.LibraryPath = pointer.Uint()
	}

	return patches, nil
}

func writePayload(w io.Writer, template payload.Template, code []byte, format string, syntax string) error {
	if format == hexFormat {
		_, err := fmt.Fprintln(w, hex.EncodeToString(code))
		return err
	}

	disassembler, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax:     asmkit.DisassemblySyntax(syntax),
		ArchConfig: asmkit.X86Config{Bits: template.Bits},
	})
	if err != nil {
		return err
	}

	output := bytes.NewBuffer(nil)
	var writer instWriter

	switch format {
	case prettyFormat:
		writer = &prettyWriter{
			w:            output,
			placeholders: template.Placeholders(),
			ptrSize:      template.PointerSize,
		}
	case goFormat:
		writer = &goByteSliceWriter{
			w: output,
		}
	default:
		return errors.Errorf("unsupported output format: %q", format)
	}

	// The padding after the code is not executed.
	err = disassembler.All(code[:len(template.Code)], writer.Write)
	if err != nil {
		return errors.Wrapf(err, "failed to disassemble %s code cave", template.Arch)
	}

	err = writer.Flush()
	if err != nil {
		return errors.Wrap(err, "failed to write remaining data to output")
	}

	_, err = io.Copy(w, output)
	return err
}

type instWriter interface {
	Write(asmkit.Inst) error
	Flush() error
}

var _ instWriter = (*prettyWriter)(nil)

// prettyWriter prints one instruction per line and names the
// placeholder an instruction carries, if any.
type prettyWriter struct {
	w            io.Writer
	placeholders []payload.Placeholder
	ptrSize      int
}

func (o *prettyWriter) Write(inst asmkit.Inst) error {
	line := fmt.Sprintf("%04x  %-24x %s", inst.Index, inst.Bin, inst.Dis)

	for _, placeholder := range o.placeholders {
		if placeholder.Offset >= inst.Index && placeholder.Offset+o.ptrSize <= inst.End() {
			line += "  ; " + placeholder.Name
		}
	}

	_, err := fmt.Fprintln(o.w, line)
	return err
}

func (o *prettyWriter) Flush() error {
	return nil
}

var _ instWriter = (*goByteSliceWriter)(nil)

type goByteSliceWriter struct {
	isInit bool
	w      io.Writer
}

func (o *goByteSliceWriter) Write(inst asmkit.Inst) error {
	if !o.isInit {
		o.isInit = true

		_, err := o.w.Write([]byte("[]byte{\n"))
		if err != nil {
			return err
		}
	}

	_, err := o.w.Write([]byte{'\t'})
	if err != nil {
		return err
	}

	for _, b := range inst.Bin {
		_, err = fmt.Fprintf(o.w, "0x%02x, ", b)
		if err != nil {
			return err
		}
	}

	_, err = o.w.Write([]byte("// " + inst.Dis + "\n"))
	return err
}

func (o *goByteSliceWriter) Flush() error {
	_, err := o.w.Write([]byte("}\n"))
	return err
}
