package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmlaunch/internal/terminal"
	"github.com/javanstorm/vmlaunch/internal/vm"
)

func newSSHCommand(a *app) *cobra.Command {
	var (
		user     string
		identity string
	)
	cmd := &cobra.Command{
		Use:   "ssh MACHINE_NAME",
		Short: "Open a shell on a machine",
		Long: `Open an interactive SSH session on a running machine through its forwarded
API port. The key generated by 'vmlaunch ssh-keygen' is offered unless the
machine's sshKey parameter or --identity names another; a password is asked
for when no key is accepted.

Type ~. at the start of a line to disconnect.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			paths, err := a.paths()
			if err != nil {
				return err
			}
			defaultKey := ""
			keys := vm.NewSSHKeyManager(paths.DataDir)
			if keys.KeyPairExists() {
				defaultKey, _ = keys.PrivateKeyPath()
			}

			target, err := a.handler.Manager().SSHTarget(cmd.Context(), name, defaultKey)
			if err != nil {
				return err
			}
			if user != "" {
				target.User = user
			}
			if identity != "" {
				target.KeyFile = identity
			}

			console := terminal.Current()
			auth, err := target.AuthMethods(func() (string, error) {
				return console.ReadPassword(fmt.Sprintf("%s@%s's password: ", target.User, name))
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			in := terminal.NewEscapeReader(a.opts.In)
			go func() {
				select {
				case <-in.Escaped():
					cancel()
				case <-ctx.Done():
				}
			}()

			tio := vm.ShellIO{
				In:   in,
				Out:  a.opts.Out,
				Err:  a.opts.Err,
				Term: os.Getenv("TERM"),
			}
			if terminal.IsTTY() {
				if w, h, err := console.Size(); err == nil {
					tio.Width, tio.Height = w, h
				}
				tio.Raw = console.SetRaw
			}

			a.logger.Debug().Str("machine", name).Str("addr", target.Addr()).Str("user", target.User).Msg("connecting")
			err = vm.Shell(ctx, target, auth, tio)
			select {
			case <-in.Escaped():
				fmt.Fprintf(a.opts.Err, "\r\nConnection to %s closed.\r\n", name)
				return nil
			default:
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&user, "user", "l", "", "Login user (default: the machine's sshUser or cernvm)")
	cmd.Flags().StringVarP(&identity, "identity", "i", "", "Private key file")
	return cmd
}
