package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/z80asm/zasm/asm"
	"github.com/z80asm/zasm/z80"
)

var rootCmd = &cobra.Command{
	Use:   "zasm [file]",
	Short: "Assembles a Z80 source file into machine code.",
	Long:  "zasm is a multi-pass Z80 assembler: expression evaluation, symbol resolution, instruction encoding, and pragma processing over a single source file.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssemble,
}

func init() {
	rootCmd.Flags().String("origin", "0x8000", "starting address of the first segment")
	rootCmd.Flags().StringP("model", "m", "spectrum48", "target model: spectrum48, spectrum128, spectrump3, next")
	rootCmd.Flags().StringP("out", "o", "", "write assembled bytes to this file")
	rootCmd.Flags().Bool("listing", false, "print the address/bytes listing to stdout")
	rootCmd.Flags().BoolP("verbose", "v", false, "enable debug-level logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAssemble(cmd *cobra.Command, args []string) error {
	filename := args[0]

	originStr, _ := cmd.Flags().GetString("origin")
	origin, err := parseAddress(originStr)
	if err != nil {
		return fmt.Errorf("invalid --origin: %w", err)
	}

	modelStr, _ := cmd.Flags().GetString("model")
	model, err := parseModel(modelStr)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	outPath, _ := cmd.Flags().GetString("out")
	showListing, _ := cmd.Flags().GetBool("listing")

	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	log := logrus.New()
	opts := asm.Options{
		Origin:     origin,
		Model:      model,
		Verbose:    verbose,
		LoadBinary: os.ReadFile,
		Logger:     log,
	}

	result, diags := asm.Assemble(f, filename, opts)

	failed := false
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.String())
		if d.Severity == asm.SeverityError {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("assembly of %s failed", filename)
	}

	if outPath != "" {
		if err := writeBinary(outPath, result); err != nil {
			return err
		}
	}
	if showListing {
		printListing(result)
	}
	return nil
}

// writeBinary concatenates every segment's emitted bytes, in the order
// they were opened, to a single output file.
func writeBinary(path string, r *asm.Result) error {
	var out []byte
	for _, seg := range r.Segments {
		out = append(out, seg.Bytes()...)
	}
	return os.WriteFile(path, out, 0644)
}

func printListing(r *asm.Result) {
	for _, item := range r.Listing {
		fmt.Printf("%04X  % X\n", item.Address, item.Bytes)
	}
}

func parseAddress(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case strings.HasPrefix(s, "$"):
		s, base = s[1:], 16
	}
	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func parseModel(s string) (z80.Model, error) {
	switch strings.ToUpper(s) {
	case "SPECTRUM48":
		return z80.Spectrum48, nil
	case "SPECTRUM128":
		return z80.Spectrum128, nil
	case "SPECTRUMP3":
		return z80.SpectrumP3, nil
	case "NEXT":
		return z80.Next, nil
	default:
		return 0, fmt.Errorf("unknown --model %q", s)
	}
}
