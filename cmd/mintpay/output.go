package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// wantsJSON reports whether output should be JSON rather than a table.
func wantsJSON(c *cli.Context) bool {
	return c.Bool("json") || c.String("jq") != ""
}

// outputJSON writes v as indented JSON, or the results of the --jq
// expression applied to it.
func outputJSON(c *cli.Context, v any) error {
	w := c.App.Writer
	filter := c.String("jq")
	if filter == "" {
		return writeIndented(w, v)
	}

	code, err := compileJQ(filter)
	if err != nil {
		return err
	}
	results, err := runJQ(code, v)
	if err != nil {
		return err
	}
	for _, r := range results {
		// Bare strings print unquoted, like jq -r.
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		if err := writeIndented(w, r); err != nil {
			return err
		}
	}
	return nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ runs code against v after a JSON round trip, so struct tags decide
// the field names the expression sees.
func runJQ(code *gojq.Code, v any) ([]any, error) {
	input, err := toJQInput(v)
	if err != nil {
		return nil, err
	}

	var out []any
	iter := code.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := r.(error); isErr {
			return nil, fmt.Errorf("jq: %w", err)
		}
		out = append(out, r)
	}
}

// matchesJQ reports whether the first result of code against v is truthy.
// Errors and empty results do not match.
func matchesJQ(code *gojq.Code, v any) bool {
	input, err := toJQInput(v)
	if err != nil {
		return false
	}
	r, ok := code.Run(input).Next()
	if !ok {
		return false
	}
	if _, isErr := r.(error); isErr {
		return false
	}
	return isTruthy(r)
}

func toJQInput(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var input any
	if err := json.Unmarshal(b, &input); err != nil {
		return nil, fmt.Errorf("failed to prepare jq input: %w", err)
	}
	return input, nil
}

// isTruthy follows jq: only false and null are falsy.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	}
	return true
}
