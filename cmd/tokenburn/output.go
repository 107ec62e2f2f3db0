package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// jsonOutput reports whether the command should print JSON instead of text.
func jsonOutput(c *cli.Context) bool {
	return c.Bool("json") || c.String("jq") != ""
}

// printJSON writes v as indented JSON, or the results of the --jq filter applied to it.
func printJSON(c *cli.Context, v interface{}) error {
	return emitJSON(c.App.Writer, v, c.String("jq"))
}

func emitJSON(w io.Writer, v interface{}, filter string) error {
	if filter == "" {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	input, err := toJQValue(v)
	if err != nil {
		return err
	}

	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq filter error: %w", err)
		}
		// Strings print raw so that `--jq .signature` is directly usable in scripts.
		if s, ok := out.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
}

// toJQValue converts v into the generic values gojq operates on. Numbers are kept
// exact: token amounts are uint64 and do not survive a float64 round trip.
func toJQValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}
	return normalizeNumbers(generic), nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.Atoi(v.String()); err == nil {
			return i
		}
		if b, ok := new(big.Int).SetString(v.String(), 10); ok {
			return b
		}
		f, _ := v.Float64()
		return f
	case map[string]interface{}:
		for k, e := range v {
			v[k] = normalizeNumbers(e)
		}
		return v
	case []interface{}:
		for i, e := range v {
			v[i] = normalizeNumbers(e)
		}
		return v
	}
	return v
}
