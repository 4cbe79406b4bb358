package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authclient"
)

func requestCmd(state **app) *cobra.Command {
	var (
		data  string
		query []string
	)
	cmd := &cobra.Command{
		Use:   "request [METHOD] PATH",
		Short: "Send a request, refreshing the session on 401",
		Example: `  authctl request /orders/
  authctl request DELETE /orders/1/
  authctl request POST /orders/ --data '{"item":"tea"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := authclient.Request{Method: http.MethodGet, Path: args[0]}
			if len(args) == 2 {
				req.Method = strings.ToUpper(args[0])
				req.Path = args[1]
			}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return errors.New("--data must be valid JSON")
				}
				req.Body = json.RawMessage(data)
			}
			if len(query) > 0 {
				req.Query = url.Values{}
				for _, kv := range query {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("--query %q: want key=value", kv)
					}
					req.Query.Add(k, v)
				}
			}

			resp, err := (*state).client.Do(cmd.Context(), req)
			if err != nil {
				return describe(err)
			}
			return printBody(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter key=value (repeatable)")
	return cmd
}

func printBody(w io.Writer, resp *authclient.Response) error {
	if resp.NoContent {
		_, err := fmt.Fprintf(w, "%d No Content\n", resp.Status)
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, resp.Body, "", "  "); err != nil {
		out.Reset()
		out.Write(resp.Body)
	}
	out.WriteByte('\n')
	_, err := w.Write(out.Bytes())
	return err
}

// describe turns an APIError into a one-line CLI error.
func describe(err error) error {
	var apiErr *authclient.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Kind == authclient.KindNetwork {
		return fmt.Errorf("%s", apiErr.Message)
	}
	return fmt.Errorf("%d: %s", apiErr.Status, apiErr.Message)
}
