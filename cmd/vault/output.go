package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

// Output flags shared by every command. The default table format is for
// humans; json and raw are for scripts (raw with --field prints a single
// value with no decoration, e.g. for piping a password).
var (
	outputFormat string
	outputField  string
)

func printResult(data map[string]any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	case "raw":
		printRaw(data)
	default:
		printTable(data)
	}
}

func printRaw(data map[string]any) {
	if outputField != "" {
		if v, ok := data[outputField]; ok {
			fmt.Println(v)
		}
		return
	}
	for _, k := range sortedKeys(data) {
		fmt.Printf("%s=%v\n", k, data[k])
	}
}

func printTable(data map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		switch val := data[k].(type) {
		case map[string]any:
			// Nested objects (e.g. the data/metadata split) become
			// an indented section.
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%v\n", kk, val[kk])
			}
		case []any:
			items := make([]string, len(val))
			for i, v := range val {
				items[i] = fmt.Sprintf("%v", v)
			}
			fmt.Fprintf(w, "%s\t%s\n", k, strings.Join(items, ", "))
		default:
			fmt.Fprintf(w, "%s\t%v\n", k, val)
		}
	}
	w.Flush()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
