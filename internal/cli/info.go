package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"discover/internal/ui"
	"discover/pkg/backend"
	"discover/pkg/resource"
)

var infoReviews bool

var infoCmd = &cobra.Command{
	Use:   "info [resource]",
	Short: "Show resource details",
	Long: `Display everything known about a resource: identity, version,
sizes, state and rating.

Examples:
  discover info org.kde.kate
  discover info flatpak://org.gimp.GIMP
  discover info vim --reviews`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().BoolVar(&infoReviews, "reviews", false, "also list user reviews")
}

// resourceInfo is the structured form of the info command.
type resourceInfo struct {
	resource.Snapshot `yaml:",inline"`
	Rating            *backend.Rating  `json:"rating,omitempty" yaml:"rating,omitempty"`
	Reviews           []backend.Review `json:"reviews,omitempty" yaml:"reviews,omitempty"`
	Transaction       string           `json:"transaction,omitempty" yaml:"transaction,omitempty"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	res, err := resolve(ctx, c, args[0], nil)
	if err != nil {
		return err
	}

	info := resourceInfo{Snapshot: res.Snapshot()}
	svc := c.Reviews(res)
	if rating, err := svc.Rating(ctx, res); err == nil && rating.Count > 0 {
		info.Rating = &rating
	}
	if infoReviews {
		reviews, err := svc.Reviews(ctx, res)
		if err != nil && !errors.Is(err, backend.ErrUnsupported) {
			return err
		}
		info.Reviews = reviews
	}
	if tx := c.Listener().ActiveFor(res.UniqueID()); tx != nil {
		info.Transaction = fmt.Sprintf("%s %s (%d%%)", tx.Role(), tx.Status(), tx.Progress())
	}

	if structured() {
		return emit(info)
	}

	ui.PrintResourceInfo(ui.Out, info.Snapshot)
	if info.Rating != nil {
		ui.Println("  %s: %.1f/5 (%d ratings)", ui.Cyan("Rating"), info.Rating.Average, info.Rating.Count)
	}
	if info.Transaction != "" {
		ui.Println("  %s: %s", ui.Cyan("Transaction"), info.Transaction)
	}
	if infoReviews && len(info.Reviews) == 0 {
		ui.MutedMsg("\nNo reviews available")
	}
	for _, r := range info.Reviews {
		ui.Println("\n  %s %s (%d/5)", ui.Bold(r.Summary), ui.Muted.Sprint("by "+r.Author), r.Rating)
		if r.Text != "" {
			ui.Println("    %s", r.Text)
		}
	}
	return nil
}
