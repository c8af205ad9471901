package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/tag-sync/internal/httpclient"
	"github.com/stacklok/tag-sync/internal/session"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify credentials and connectivity without syncing",
		Long: `Check validates the Bitbucket credential pairing, then confirms that the
PostHog API key is accepted and that the Bitbucket repository is reachable.
Nothing is read from or written to the run guard.`,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := httpclient.NewDefaultClient(cfg.GetHTTPTimeout(),
		httpclient.WithRetryDelay(cfg.GetRetryDelay()))

	sess, err := session.New(contextOrBackground(cmd.Context()), cfg, client)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "OK: PostHog %s and Bitbucket repository %s are reachable\n",
		sess.PostHogURL(), sess.Repository())
	return err
}
