package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	tenantclient "github.com/JohnPlummer/jp-go-tenantclient"
)

func newRequestCommand(a *app, method string) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " <endpoint>",
		Short: fmt.Sprintf("Send a %s request and print the normalized result", method),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if data != "" {
				if !json.Valid([]byte(data)) {
					return &ExitError{Code: 2, Err: fmt.Errorf("--data is not valid JSON")}
				}
				body = json.RawMessage(data)
			}

			if err := a.setup(cmd); err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			res := a.client.Execute(cmd.Context(), method, args[0], body)
			return printResult(cmd.OutOrStdout(), res)
		},
	}

	if method != "GET" {
		cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	}
	return cmd
}

// printResult writes the result as indented JSON: the response on success, {"error": ...}
// on failure. A failure returns exit code 1.
func printResult(w io.Writer, res tenantclient.Result[*tenantclient.Response]) error {
	var out any = res.Value
	if !res.OK() {
		out = map[string]any{"error": res.Err}
	}

	if err := writeJSON(w, out); err != nil {
		return err
	}
	if !res.OK() {
		return &ExitError{Code: 1}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
