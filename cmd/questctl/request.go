package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/questline/internal/apiclient"
	"github.com/spf13/cobra"
)

var (
	requestData    string
	requestNoRetry bool
)

var requestCmd = &cobra.Command{
	Use:   "request METHOD ENDPOINT",
	Short: "Issue an authenticated API request",
	Long: `Issue an authenticated request against the API, refreshing the access token
once on a 401. JSON responses are pretty-printed; anything else is printed as text.

Example:
  questctl request GET /users/1
  questctl request POST /quests/3/messages --data '{"message_text":"hi"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.requireSession(ctx); err != nil {
				return err
			}
			var body any
			if requestData != "" {
				if err := json.Unmarshal([]byte(requestData), &body); err != nil {
					return fmt.Errorf("--data is not valid JSON: %w", err)
				}
			}
			res, err := a.client.Request(ctx, args[1], strings.ToUpper(args[0]), body, !requestNoRetry)
			if err != nil {
				return describeError(a.auth.HandleError(ctx, err))
			}
			return printResult(a.out, res)
		})
	},
}

func init() {
	requestCmd.Flags().StringVarP(&requestData, "data", "d", "", "JSON request body")
	requestCmd.Flags().BoolVar(&requestNoRetry, "no-retry", false, "Do not refresh and retry on 401")
	rootCmd.AddCommand(requestCmd)
}

func printResult(w io.Writer, res *apiclient.Result) error {
	if !res.IsJSON {
		fmt.Fprintln(w, res.Text())
		return nil
	}
	v, err := res.Value()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// describeError prefixes API errors with their kind and status.
func describeError(err error) error {
	kind := apiclient.KindOf(err)
	if kind == 0 {
		return err
	}
	if status := apiclient.StatusOf(err); status != 0 && status != http.StatusOK {
		return fmt.Errorf("%s error (HTTP %d): %w", kind, status, err)
	}
	return fmt.Errorf("%s error: %w", kind, err)
}
