package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

func newTemplateCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "template",
		Short: "Manage enrolled face and fingerprint templates",
	}
	c.AddCommand(
		newTemplateAddFaceCmd(a),
		newTemplateAddFingerprintCmd(a),
		newTemplateListCmd(a),
		newTemplateDeleteCmd(a),
	)
	return c
}

func newTemplateAddFaceCmd(a *app) *cobra.Command {
	var embedding []float32
	c := &cobra.Command{
		Use:   "add-face <label>",
		Short: "Enroll a face embedding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.templates.EnrollFace(cmd.Context(), args[0], embedding)
			if err != nil {
				return err
			}
			return a.printEnrolled(rec)
		},
	}
	c.Flags().Float32SliceVar(&embedding, "embedding", nil, "Comma-separated embedding vector")
	_ = c.MarkFlagRequired("embedding")
	return c
}

func newTemplateAddFingerprintCmd(a *app) *cobra.Command {
	var slot int
	c := &cobra.Command{
		Use:   "add-fingerprint <label>",
		Short: "Enroll a fingerprint sensor slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.templates.EnrollFingerprint(cmd.Context(), args[0], slot)
			if err != nil {
				return err
			}
			return a.printEnrolled(rec)
		},
	}
	c.Flags().IntVar(&slot, "slot", 0, "Sensor slot the finger was stored in")
	_ = c.MarkFlagRequired("slot")
	return c
}

func (a *app) printEnrolled(rec store.TemplateRecord) error {
	if ok, err := a.emit(newTemplateView(rec)); ok {
		return err
	}
	fmt.Fprintf(a.out, "%s %s template %q enrolled (id %s)\n", okFmt("✓"), rec.Kind, rec.Label, rec.ID)
	return nil
}

func newTemplateListCmd(a *app) *cobra.Command {
	var kind string
	c := &cobra.Command{
		Use:   "list",
		Short: "List enrolled templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []store.TemplateKind{store.TemplateFace, store.TemplateFingerprint}
			if kind != "" {
				kinds = []store.TemplateKind{store.TemplateKind(kind)}
			}
			views := []templateView{}
			for _, k := range kinds {
				recs, err := a.templates.List(cmd.Context(), k)
				if err != nil {
					return err
				}
				for _, r := range recs {
					views = append(views, newTemplateView(r))
				}
			}
			if ok, err := a.emit(views); ok {
				return err
			}
			if len(views) == 0 {
				fmt.Fprintln(a.out, "No templates enrolled.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tLABEL\tBYTES\tCREATED")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", v.ID, v.Kind, orDash(v.Label), v.Bytes, v.CreatedAt)
			}
			return w.Flush()
		},
	}
	c.Flags().StringVar(&kind, "kind", "", "Only list face or fingerprint templates")
	return c
}

func newTemplateDeleteCmd(a *app) *cobra.Command {
	var label, kind string
	c := &cobra.Command{
		Use:     "delete [id]",
		Aliases: []string{"rm"},
		Short:   "Delete a template by ID, or every template with a label",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := a.templates.Delete(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("delete %s: %w", args[0], err)
				}
				fmt.Fprintf(a.out, "%s template %s deleted\n", okFmt("✓"), args[0])
				return nil
			}
			if label == "" || kind == "" {
				return fmt.Errorf("give a template id, or both --kind and --label")
			}
			n, err := a.templates.DeleteByLabel(cmd.Context(), store.TemplateKind(kind), label)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %d %s template(s) labelled %q deleted\n", okFmt("✓"), n, kind, label)
			return nil
		},
	}
	c.Flags().StringVar(&label, "label", "", "Delete every template with this label")
	c.Flags().StringVar(&kind, "kind", "", "Template kind for --label: face or fingerprint")
	return c
}
