package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/loomworks/loom/pkg/credentials"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store subscription credentials for the direct model path",
		Long: `Store subscription OAuth credentials so eligible models are served
over your own model subscription instead of the managed backend.

Paste the access token (and optionally a refresh token) from your
provider's authorized session. Tokens are stored with owner-only
permissions under ~/.loom/.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			access, err := promptSecret("Access token: ")
			if err != nil {
				return err
			}
			if access == "" {
				return fmt.Errorf("access token is required")
			}
			refresh, err := promptSecret("Refresh token (optional): ")
			if err != nil {
				return err
			}

			creds := &credentials.OAuthCredentials{
				AccessToken:  access,
				RefreshToken: refresh,
			}
			if err := credentials.Save(creds); err != nil {
				return err
			}
			fmt.Println("Credentials saved.")
			return nil
		},
	}
	return cmd
}

// promptSecret reads a line without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil && line == "" {
		return "", nil
	}
	return strings.TrimSpace(line), nil
}
