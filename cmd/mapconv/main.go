package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"gopkg.in/yaml.v3"

	"github.com/kjetilk/mapper/internal/model"
	"github.com/kjetilk/mapper/pkg/mapconv"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var log = logrus.New()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mapconv",
	Short: "Read, inspect and write version-8 OCD orienteering map files",
	Long: `mapconv is a tool for working with version-8 OCD map files.

It can re-encode map files, export their contents to JSON, inspect file
metadata, and validate map structure. Everything the format cannot carry
one-to-one is reported as a warning rather than an error.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "YAML file with encoding overrides")
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// cliConfig is the YAML configuration accepted by --config. Both fields
// are optional; the defaults are the format's native encodings.
type cliConfig struct {
	NarrowEncoding string `yaml:"narrow_encoding"`
	WideEncoding   string `yaml:"wide_encoding"`
}

func loadOptions(cmd *cobra.Command) (mapconv.Options, error) {
	var opts mapconv.Options
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read config file: %w", err)
	}
	var cfg cliConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return opts, fmt.Errorf("parse config file: %w", err)
	}
	if opts.NarrowEncoding, err = narrowEncodingByName(cfg.NarrowEncoding); err != nil {
		return opts, err
	}
	if opts.WideEncoding, err = wideEncodingByName(cfg.WideEncoding); err != nil {
		return opts, err
	}
	log.Debugf("using encodings narrow=%q wide=%q", cfg.NarrowEncoding, cfg.WideEncoding)
	return opts, nil
}

func narrowEncodingByName(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "windows-1252":
		return nil, nil
	case "windows-1250":
		return charmap.Windows1250, nil
	case "windows-1251":
		return charmap.Windows1251, nil
	case "windows-1254":
		return charmap.Windows1254, nil
	case "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "cp437":
		return charmap.CodePage437, nil
	default:
		return nil, fmt.Errorf("unknown narrow encoding: %s", name)
	}
}

func wideEncodingByName(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-16le":
		return nil, nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	default:
		return nil, fmt.Errorf("unknown wide encoding: %s", name)
	}
}

func importMap(cmd *cobra.Command, path string, opts mapconv.Options) (*model.Map, *model.View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	m, view, warnings, err := mapconv.Import(f, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("import map file: %w", err)
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	return m, view, nil
}

// convert command
var convertCmd = &cobra.Command{
	Use:   "convert <input.ocd>",
	Short: "Re-encode a map file or dump it as JSON",
	Long: `Read a map file and write it back out.

With --format ocd the map is normalized through the object model and
re-encoded; with --format json the object model is dumped as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	convertCmd.Flags().String("format", "ocd", "Output format: ocd, json")
	convertCmd.Flags().Bool("symbols-only", false, "Skip objects, templates and view data")
}

func runConvert(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts.SymbolsOnly, _ = cmd.Flags().GetBool("symbols-only")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	m, view, err := importMap(cmd, args[0], opts)
	if err != nil {
		return err
	}

	output := os.Stdout
	if outputPath != "" {
		output, err = os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer output.Close()
	}

	switch format {
	case "ocd":
		warnings, err := mapconv.Export(output, m, view, opts)
		for _, w := range warnings {
			log.Warn(w)
		}
		if err != nil {
			return fmt.Errorf("export map file: %w", err)
		}
		return nil
	case "json":
		encoder := json.NewEncoder(output)
		encoder.SetIndent("", "  ")
		return encoder.Encode(mapToJSON(m))
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func symbolNumberString(sym model.Symbol) string {
	n := sym.Base().Number
	s := fmt.Sprintf("%d", n[0])
	for _, c := range n[1:] {
		if c < 0 {
			break
		}
		s += fmt.Sprintf(".%d", c)
	}
	return s
}

func symbolKindString(sym model.Symbol) string {
	switch sym.Type() {
	case model.SymbolPoint:
		return "point"
	case model.SymbolLine:
		return "line"
	case model.SymbolArea:
		return "area"
	case model.SymbolText:
		return "text"
	case model.SymbolCombined:
		return "combined"
	default:
		return "unknown"
	}
}

func mapToJSON(m *model.Map) map[string]interface{} {
	colors := make([]map[string]interface{}, len(m.Colors))
	for i, c := range m.Colors {
		colors[i] = map[string]interface{}{
			"priority": c.Priority,
			"name":     c.Name,
			"cmyk":     []float64{c.C, c.M, c.Y, c.K},
		}
	}

	symbols := make([]map[string]interface{}, len(m.Symbols))
	for i, sym := range m.Symbols {
		entry := map[string]interface{}{
			"number": symbolNumberString(sym),
			"name":   sym.Base().Name,
			"kind":   symbolKindString(sym),
		}
		if sym.Base().Hidden {
			entry["hidden"] = true
		}
		if sym.Base().Protected {
			entry["protected"] = true
		}
		symbols[i] = entry
	}

	layers := make([]map[string]interface{}, len(m.Layers))
	for i, layer := range m.Layers {
		objects := make([]map[string]interface{}, len(layer.Objects))
		for j, obj := range layer.Objects {
			entry := map[string]interface{}{
				"points": len(obj.Coords()),
			}
			if obj.Symbol() != nil {
				entry["symbol"] = symbolNumberString(obj.Symbol())
			}
			switch o := obj.(type) {
			case *model.PointObject:
				entry["type"] = "point"
			case *model.PathObject:
				entry["type"] = "path"
			case *model.TextObject:
				entry["type"] = "text"
				entry["text"] = o.Text
			}
			objects[j] = entry
		}
		layers[i] = map[string]interface{}{
			"name":    layer.Name,
			"objects": objects,
		}
	}

	templates := make([]map[string]interface{}, len(m.Templates))
	for i, t := range m.Templates {
		templates[i] = map[string]interface{}{
			"path": t.Path,
			"x":    t.X,
			"y":    t.Y,
		}
	}

	return map[string]interface{}{
		"scale":     m.ScaleDenominator,
		"notes":     m.Notes,
		"colors":    colors,
		"symbols":   symbols,
		"layers":    layers,
		"templates": templates,
	}
}

// info command
var infoCmd = &cobra.Command{
	Use:   "info <input.ocd>",
	Short: "Display map file information",
	Long: `Display metadata and statistics about a map file.

Shows the map scale and counts of colors, symbols, objects and templates.`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().Bool("json", false, "Output as JSON")
	infoCmd.Flags().Bool("brief", false, "Show only summary")
}

func runInfo(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	brief, _ := cmd.Flags().GetBool("brief")

	m, _, err := importMap(cmd, args[0], opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		info := map[string]interface{}{
			"file":  args[0],
			"scale": m.ScaleDenominator,
			"counts": map[string]int{
				"colors":    len(m.Colors),
				"symbols":   len(m.Symbols),
				"objects":   m.NumObjects(),
				"templates": len(m.Templates),
			},
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(info)
	}

	if brief {
		fmt.Printf("%s: Scale=1:%d Colors=%d Symbols=%d Objects=%d Templates=%d\n",
			args[0], m.ScaleDenominator, len(m.Colors), len(m.Symbols),
			m.NumObjects(), len(m.Templates))
		return nil
	}

	fmt.Printf("Map File: %s\n", args[0])
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()
	fmt.Printf("Scale:      1:%d\n", m.ScaleDenominator)
	fmt.Printf("Colors:     %d\n", len(m.Colors))
	fmt.Printf("Symbols:    %d\n", len(m.Symbols))
	fmt.Printf("Objects:    %d\n", m.NumObjects())
	fmt.Printf("Templates:  %d\n", len(m.Templates))
	if m.Notes != "" {
		fmt.Println()
		fmt.Println("Notes:")
		fmt.Printf("  %s\n", strings.ReplaceAll(m.Notes, "\n", "\n  "))
	}

	if len(m.Symbols) > 0 && len(m.Symbols) <= 40 {
		fmt.Println()
		fmt.Println("Symbols:")
		for _, sym := range m.Symbols {
			fmt.Printf("  %-10s %-8s %s\n",
				symbolNumberString(sym), symbolKindString(sym), sym.Base().Name)
		}
	}
	return nil
}

// validate command
var validateCmd = &cobra.Command{
	Use:   "validate <input.ocd>",
	Short: "Validate map file structure",
	Long: `Validate a map file and its object model.

Checks for format problems, dangling symbol references, degenerate
geometry and unused symbol definitions.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().Bool("strict", false, "Fail on warnings")
}

func runValidate(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	strict, _ := cmd.Flags().GetBool("strict")

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	v := newValidator(strict)
	m, _, warnings, err := mapconv.Import(f, opts)
	if err != nil {
		return fmt.Errorf("import map file: %w", err)
	}
	for _, w := range warnings {
		v.warning("import: %s", w)
	}
	v.validate(m, args[0])
	v.printResults()

	if v.hasErrors() || (strict && v.hasWarnings()) {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// validator holds validation state.
type validator struct {
	strict   bool
	errors   []string
	warnings []string
	file     string
}

func newValidator(strict bool) *validator {
	return &validator{strict: strict}
}

func (v *validator) error(msg string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(msg, args...))
}

func (v *validator) warning(msg string, args ...interface{}) {
	v.warnings = append(v.warnings, fmt.Sprintf(msg, args...))
}

func (v *validator) hasErrors() bool   { return len(v.errors) > 0 }
func (v *validator) hasWarnings() bool { return len(v.warnings) > 0 }

func (v *validator) validate(m *model.Map, file string) {
	v.file = file
	v.validateColors(m)
	v.validateSymbols(m)
	v.validateObjects(m)
}

func (v *validator) validateColors(m *model.Map) {
	if len(m.Colors) == 0 {
		v.warning("No colors defined")
	}
	for _, c := range m.Colors {
		for _, channel := range []float64{c.C, c.M, c.Y, c.K} {
			if channel < 0 || channel > 1 {
				v.error("Color \"%s\": channel value %v out of range", c.Name, channel)
				break
			}
		}
	}
}

func (v *validator) validateSymbols(m *model.Map) {
	// Mark symbols reachable from objects, including the parts of any
	// referenced combined symbol.
	used := make([]bool, len(m.Symbols))
	for _, layer := range m.Layers {
		for _, obj := range layer.Objects {
			if index := m.FindSymbolIndex(obj.Symbol()); index >= 0 {
				used[index] = true
			}
		}
	}
	m.SymbolUseClosure(used)

	seen := make(map[string]bool)
	for i, sym := range m.Symbols {
		number := symbolNumberString(sym)
		if seen[number] {
			v.warning("Duplicate symbol number %s", number)
		}
		seen[number] = true

		if !used[i] {
			v.warning("Symbol %s \"%s\" is not used by any object", number, sym.Base().Name)
		}

		switch s := sym.(type) {
		case *model.TextSymbol:
			if s.FontSize <= 0 {
				v.error("Text symbol %s has no font size", number)
			}
		case *model.CombinedSymbol:
			for _, part := range s.Parts {
				if part < 0 || part >= len(m.Symbols) {
					v.error("Combined symbol %s references an invalid part index %d", number, part)
				}
			}
		}
	}
}

func (v *validator) validateObjects(m *model.Map) {
	for _, layer := range m.Layers {
		for i, obj := range layer.Objects {
			if obj.Symbol() == nil {
				v.error("Object %d in layer \"%s\" has no symbol", i, layer.Name)
				continue
			}
			if po, ok := obj.(*model.PathObject); ok && len(po.Points) < 2 {
				v.warning("Path object %d in layer \"%s\" has fewer than two points", i, layer.Name)
			}
			if to, ok := obj.(*model.TextObject); ok && to.NumLines() == 0 {
				v.warning("Text object %d in layer \"%s\" is empty", i, layer.Name)
			}
		}
	}
}

func (v *validator) printResults() {
	fmt.Printf("Validating: %s\n", v.file)
	fmt.Println(strings.Repeat("=", 50))

	if len(v.errors) == 0 && len(v.warnings) == 0 {
		fmt.Println("Valid map file - no issues found")
		return
	}
	if len(v.errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(v.errors))
		for _, err := range v.errors {
			fmt.Printf("  ERROR %s\n", err)
		}
	}
	if len(v.warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(v.warnings))
		for _, warn := range v.warnings {
			fmt.Printf("  WARN  %s\n", warn)
		}
	}

	fmt.Println()
	if len(v.errors) > 0 {
		fmt.Printf("Validation failed: %d error(s)", len(v.errors))
		if len(v.warnings) > 0 {
			fmt.Printf(", %d warning(s)", len(v.warnings))
		}
		fmt.Println()
	} else {
		fmt.Printf("Validation passed with %d warning(s)\n", len(v.warnings))
		if v.strict {
			fmt.Println("(use without --strict to ignore warnings)")
		}
	}
}

// version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mapconv version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
	},
}
