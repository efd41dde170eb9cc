package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmlaunch/internal/vm"
)

func newSSHKeygenCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ssh-keygen",
		Short: "Generate the SSH key used to log into machines",
		Long: `Generate an ed25519 key pair in ~/.vmlaunch/ssh/. The key is offered by
'vmlaunch ssh'. Add the public key to the users section of your user data to
log in without a password.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := a.paths()
			if err != nil {
				return fmt.Errorf("determine paths: %w", err)
			}
			out := cmd.OutOrStdout()
			keys := vm.NewSSHKeyManager(paths.DataDir)

			existed := keys.KeyPairExists()
			privPath, pubPath, err := keys.EnsureKeyPair()
			if err != nil {
				return fmt.Errorf("generate key pair: %w", err)
			}
			if existed {
				fmt.Fprintln(out, "SSH key pair already exists:")
			} else {
				fmt.Fprintln(out, "SSH key pair generated:")
			}
			fmt.Fprintf(out, "  Private key: %s\n", privPath)
			fmt.Fprintf(out, "  Public key:  %s\n", pubPath)

			pub, err := keys.PublicKeyContent()
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Public key:")
			fmt.Fprintf(out, "  %s\n", strings.TrimSpace(pub))
			return nil
		},
	}
}
