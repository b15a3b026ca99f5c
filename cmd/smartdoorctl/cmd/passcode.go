package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newPasscodeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "passcode",
		Short: "Manage passcodes",
		Long:  `Commands to set the main code, issue guest codes, and reveal or revoke them.`,
	}
	c.AddCommand(
		newPasscodeSetMainCmd(a),
		newPasscodeAddGuestCmd(a),
		newPasscodeListCmd(a),
		newPasscodeRevealMainCmd(a),
		newPasscodeRevealCmd(a),
		newPasscodeDeleteCmd(a),
	)
	return c
}

func newPasscodeSetMainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-main <code>",
		Short: "Replace the main passcode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.creds.CreateMainCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok, err := a.emit(newPasscodeView(rec)); ok {
				return err
			}
			fmt.Fprintf(a.out, "%s main code set to %s\n", okFmt("✓"), rec.CodeMasked)
			return nil
		},
	}
}

func newPasscodeAddGuestCmd(a *app) *cobra.Command {
	var (
		ttl     time.Duration
		oneTime bool
	)
	c := &cobra.Command{
		Use:   "add-guest <code>",
		Short: "Issue a time-limited guest passcode",
		Long: `Issue a guest passcode valid for --ttl (default 60m).  With --one-time
the code is consumed by its first successful use.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ttlp *time.Duration
			if cmd.Flags().Changed("ttl") {
				ttlp = &ttl
			}
			create := a.creds.CreateGuestCode
			if oneTime {
				create = a.creds.CreateOneTimeCode
			}
			rec, err := create(cmd.Context(), args[0], ttlp)
			if err != nil {
				return err
			}
			if ok, err := a.emit(newPasscodeView(rec)); ok {
				return err
			}
			kind := "guest"
			if rec.IsOneTime {
				kind = "one-time"
			}
			fmt.Fprintf(a.out, "%s %s code %s created (id %s, valid until %s)\n",
				okFmt("✓"), kind, rec.CodeMasked, rec.ID, rec.ValidUntil.UTC().Format(time.RFC3339))
			return nil
		},
	}
	c.Flags().DurationVar(&ttl, "ttl", time.Hour, "How long the code stays valid")
	c.Flags().BoolVar(&oneTime, "one-time", false, "Consume the code on first successful use")
	return c
}

func newPasscodeListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active guest passcodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			codes, err := a.creds.ListActiveGuestCodes(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			if a.format != "table" && len(codes) == 0 {
				fmt.Fprintln(a.out, "[]")
				return nil
			}
			if ok, err := a.emit(codes); ok {
				return err
			}
			if len(codes) == 0 {
				fmt.Fprintln(a.out, "No active guest codes. Use 'smartdoorctl passcode add-guest' to create one.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tONE-TIME\tREMAINING")
			for _, c := range codes {
				remain := (time.Duration(c.RemainSec) * time.Second).String()
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", c.ID, c.Masked, c.OneTime, remain)
			}
			return w.Flush()
		},
	}
}

func newPasscodeRevealMainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reveal-main",
		Short: "Print the main passcode in clear text",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.creds.RevealMain(cmd.Context())
			if err != nil {
				return err
			}
			return a.printSecret(raw)
		},
	}
}

func newPasscodeRevealCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <id>",
		Short: "Print a guest passcode in clear text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.creds.RevealGuest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printSecret(raw)
		},
	}
}

func (a *app) printSecret(raw string) error {
	if ok, err := a.emit(map[string]string{"code": raw}); ok {
		return err
	}
	fmt.Fprintln(a.out, raw)
	return nil
}

func newPasscodeDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Revoke a guest passcode",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.creds.DeleteGuestCode(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete %s: %w", args[0], err)
			}
			fmt.Fprintf(a.out, "%s guest code %s deleted\n", okFmt("✓"), args[0])
			return nil
		},
	}
}
