package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
)

type vaultReportView struct {
	Checked int      `json:"checked" yaml:"checked"`
	Stale   []string `json:"stale,omitempty" yaml:"stale,omitempty"`
	Rewrap  []string `json:"rewrap,omitempty" yaml:"rewrap,omitempty"`
}

func newVaultCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "vault",
		Short: "Check and rotate passcode encryption",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "check",
			Short: "Verify every stored passcode opens with the configured keys",
			RunE: func(cmd *cobra.Command, args []string) error {
				rep, err := a.creds.CheckVault(cmd.Context())
				if err != nil && !errors.Is(err, service.ErrVaultMismatch) {
					return err
				}
				view := vaultReportView{Checked: rep.Checked, Stale: rep.Stale, Rewrap: rep.Rewrap}
				if ok, emitErr := a.emit(view); ok {
					if emitErr != nil {
						return emitErr
					}
					return err
				}

				fmt.Fprintf(a.out, "Checked %d sealed passcode(s)\n", rep.Checked)
				for _, id := range rep.Rewrap {
					fmt.Fprintf(a.out, "  %s %s sealed under a previous key\n", warnFmt("!"), id)
				}
				for _, id := range rep.Stale {
					fmt.Fprintf(a.out, "  %s %s cannot be opened\n", errFmt("✗"), id)
				}
				if err != nil {
					return err
				}
				if len(rep.Rewrap) > 0 {
					fmt.Fprintln(a.out, "Run 'smartdoorctl vault rewrap' to re-seal them under the active key.")
					return nil
				}
				fmt.Fprintf(a.out, "%s vault OK\n", okFmt("✓"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "rewrap",
			Short: "Re-seal passcodes under the active key",
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := a.creds.Rewrap(cmd.Context())
				if err != nil {
					return err
				}
				if ok, err := a.emit(map[string]int{"rewrapped": n}); ok {
					return err
				}
				fmt.Fprintf(a.out, "%s re-sealed %d passcode(s)\n", okFmt("✓"), n)
				return nil
			},
		},
	)
	return c
}
