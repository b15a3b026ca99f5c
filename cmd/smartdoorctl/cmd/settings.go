package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

func newSettingsCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "settings",
		Short: "Show and change door settings",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the current settings",
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := a.settings.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				return a.printSettings(s)
			},
		},
		&cobra.Command{
			Use:   "set-hold <seconds>",
			Short: "Set how long the door stays unlocked after a grant",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				secs, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("hold time %q: not an integer", args[0])
				}
				s, err := a.settings.SetHoldTime(cmd.Context(), secs)
				if err != nil {
					return err
				}
				return a.printSettings(s)
			},
		},
		newMethodToggleCmd(a, "enable", true),
		newMethodToggleCmd(a, "disable", false),
	)
	return c
}

func newMethodToggleCmd(a *app, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:       verb + " <face|fingerprint|passcode>",
		Short:     strings.ToUpper(verb[:1]) + verb[1:] + " an access method",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(types.MethodFace), string(types.MethodFingerprint), string(types.MethodPasscode)},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings.SetMethodEnabled(cmd.Context(), types.Method(args[0]), enabled)
			if err != nil {
				return fmt.Errorf("%s %s: %w", verb, args[0], err)
			}
			return a.printSettings(s)
		},
	}
}

func (a *app) printSettings(s types.Settings) error {
	if ok, err := a.emit(s); ok {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Door:\t%s\n", s.DoorState)
	fmt.Fprintf(w, "Hold time:\t%ds\n", s.HoldTimeSeconds)
	fmt.Fprintf(w, "Face:\t%s\n", onOff(s.FaceEnabled))
	fmt.Fprintf(w, "Fingerprint:\t%s\n", onOff(s.FingerprintEnabled))
	fmt.Fprintf(w, "Passcode:\t%s\n", onOff(s.PasscodeEnabled))
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated:\t%s\n", dimFmt(s.UpdatedAt.UTC().Format(time.RFC3339)))
	}
	return w.Flush()
}

func onOff(b bool) string {
	if b {
		return okFmt("enabled")
	}
	return warnFmt("disabled")
}
