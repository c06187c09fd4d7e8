// Command contact submits the contact form from a terminal, using the same
// pre-checks and messages as the website.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/webmatic/backend/pkg/formclient"
)

var (
	apiURL  string
	timeout time.Duration
	form    formclient.Form
)

// errRejected signals a failed submission after its notice was printed.
var errRejected = errors.New("submission failed")

var rootCmd = &cobra.Command{
	Use:           "contact",
	Short:         "Webmatic contact form client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send a contact request",
	Long: `Send a contact request to the Webmatic API.

Name, email and message are required; phone is optional.
The command exits non-zero when the request is not accepted.`,
	Example: `  contact submit --name "Jean Dupont" --email jean@test.fr \
    --service "Maintenance informatique" --message "Mon ordinateur ne démarre plus"`,
	RunE: runSubmit,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("WEBMATIC_API_URL", "http://localhost:8080"), "API base URL (or set WEBMATIC_API_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "Request timeout")

	f := submitCmd.Flags()
	f.StringVar(&form.Name, "name", "", "Your name")
	f.StringVar(&form.Email, "email", "", "Your email address")
	f.StringVar(&form.Phone, "phone", "", "Phone number (optional)")
	f.StringVar(&form.Service, "service", "Autre", "Requested service")
	f.StringVar(&form.Message, "message", "", "Your message")

	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	n := formclient.New(apiURL).Submit(ctx, form)
	printNotice(cmd.OutOrStdout(), cmd.ErrOrStderr(), n)
	if n.Kind != formclient.Success {
		return errRejected
	}
	return nil
}

func printNotice(out, errOut io.Writer, n formclient.Notice) {
	if n.Kind == formclient.Success {
		fmt.Fprintln(out, n.Text)
		if n.Reference != "" {
			fmt.Fprintf(out, "Référence : %s\n", n.Reference)
		}
		return
	}
	fmt.Fprintln(errOut, n.Text)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRejected) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
