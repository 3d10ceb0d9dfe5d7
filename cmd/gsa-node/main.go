package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gordian-engine/gsa/cmd/internal/gcmd"
	"github.com/gordian-engine/gsa/sa/sacommittee"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := NewRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Info("Failure", "err", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}

func NewRootCmd(log *slog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "gsa-node SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		Long: `gsa-node runs a provisioner of the succinct attestation consensus protocol.

Initial setup involves:

1. Pick your insecure passphrase. Keys are derived from it on every start
   and never written to disk.
2. Discover your resulting provisioner public key and libp2p ID with:
     $ gsa-node validator-pubkey 'my-passphrase'
     $ gsa-node libp2p-id 'my-passphrase'
3. Once every provisioner's public key is known, create a config file like:
     provisioners:
       - {pubkey: "8f2c...", stake: 1000}
       - {pubkey: "a41b...", stake: 1000}
     remote-addrs: ["/ip4/127.0.0.1/tcp/8888/p2p/$LIBP2P_ID"]
   Any key may also be set with a GSA_ environment variable or a flag.
4. Run the node:
     $ gsa-node run 'my-passphrase' path/to/config.yaml
`,
	}

	rootCmd.AddCommand(
		NewValidatorPublicKeyCmd(log),
		NewLibp2pIDCmd(log),

		NewCommitteesCmd(log),

		NewRunCmd(log),
	)

	return rootCmd
}

func NewValidatorPublicKeyCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "validator-pubkey INSECURE_PASSPHRASE",

		Aliases: []string{"validator-pub-key"},

		Short: "Print the BLS provisioner public key derived from the given insecure passphrase",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := gcmd.SignerFromInsecurePassphrase(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", signer.PubKey().PubKeyBytes())

			return nil
		},
	}
}

func NewLibp2pIDCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "libp2p-id INSECURE_PASSPHRASE",

		Short: "Print the libp2p ID derived from the given insecure passphrase",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			privKey, err := gcmd.Libp2pKeyFromInsecurePassphrase(args[0])
			if err != nil {
				return fmt.Errorf("failed to generate libp2p network key: %w", err)
			}

			id, err := libp2ppeer.IDFromPrivateKey(privKey)
			if err != nil {
				return fmt.Errorf("failed to generate ID from libp2p private key: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)

			return nil
		},
	}
}

func NewCommitteesCmd(log *slog.Logger) *cobra.Command {
	var iterations uint8

	cmd := &cobra.Command{
		Use: "committees PATH_TO_CONFIG_FILE",

		Short: "Print the committees of a round's first iterations, as derived from the configured provisioners",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(args[0], cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := loadNodeConfig(v)
			if err != nil {
				return err
			}

			provs, err := cfg.BuildProvisioners()
			if err != nil {
				return err
			}
			ec, err := cfg.EngineConfig()
			if err != nil {
				return err
			}

			round := cfg.FirstRound
			seed := []byte(cfg.GenesisSeed)

			out := cmd.OutOrStdout()
			rc := sacommittee.NewRoundCommittees()
			for iter := range min(iterations, ec.MaxIterations) {
				rc.GenerateIteration(ec.Sortition, ec.CommitteeSizes, provs, round, seed, iter)

				fmt.Fprintf(out, "round=%d iteration=%d\n", round, iter)
				for _, step := range []saconsensus.StepName{
					saconsensus.StepProposal, saconsensus.StepValidation, saconsensus.StepRatification,
				} {
					c, ok := rc.Committee(step.ToStep(iter))
					if !ok {
						continue
					}
					fmt.Fprintf(out, "  %s (%d credits)\n", step, c.TotalCredits())
					for _, m := range c.Members() {
						fmt.Fprintf(out, "    %x %d\n", m.PubKey.PubKeyBytes(), m.Credits)
					}
				}
			}

			return nil
		},
	}

	addRoundFlags(cmd.Flags())
	cmd.Flags().Uint8Var(&iterations, "iterations", 1, "number of iterations to print")

	return cmd
}

func NewRunCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "run INSECURE_PASSPHRASE PATH_TO_CONFIG_FILE",

		Short: "Run a provisioner node",

		Args: cobra.ExactArgs(2),

		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := gcmd.SignerFromInsecurePassphrase(args[0])
			if err != nil {
				return err
			}
			netKey, err := gcmd.Libp2pKeyFromInsecurePassphrase(args[0])
			if err != nil {
				return fmt.Errorf("failed to generate libp2p network key: %w", err)
			}

			v, err := newViper(args[1], cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := loadNodeConfig(v)
			if err != nil {
				return err
			}

			return runNode(cmd.Context(), log, cfg, signer, netKey)
		},
	}

	addNetworkFlags(cmd.Flags())
	addRoundFlags(cmd.Flags())

	return cmd
}
