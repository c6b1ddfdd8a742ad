package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"postbot/internal/app"
	"postbot/internal/publish"
)

var retractCmd = &cobra.Command{
	Use:   "retract",
	Short: "Delete published posts by run id or by chat:message pairs",
	Example: `  postbot retract --run 0b6f3c1e-...
  postbot retract --message -1001234567890:42 --message @mychannel:7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run")
		refs, _ := cmd.Flags().GetStringArray("message")
		if (runID == "") == (len(refs) == 0) {
			return fmt.Errorf("exactly one of --run or --message is required")
		}

		var targets []publish.Target
		for _, r := range refs {
			t, err := parseTarget(r)
			if err != nil {
				return err
			}
			targets = append(targets, t)
		}

		a, err := app.New(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		var res publish.Retraction
		if runID != "" {
			out, err := a.Retention().RetractRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd, out); err != nil {
				return err
			}
			res = out.Retraction
		} else {
			res = a.Retractor().Retract(cmd.Context(), targets)
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
		}
		if !res.Success {
			return fmt.Errorf("retraction incomplete:\n%s", res.Error)
		}
		return nil
	},
}

func init() {
	retractCmd.Flags().String("run", "", "retract every live post of this run")
	retractCmd.Flags().StringArray("message", nil, "chat:message_id pair (repeatable)")
}

// parseTarget splits "chat:id" on the last colon.
func parseTarget(s string) (publish.Target, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return publish.Target{}, fmt.Errorf("invalid message %q: want chat:message_id", s)
	}
	id, err := strconv.Atoi(s[i+1:])
	if err != nil || id <= 0 {
		return publish.Target{}, fmt.Errorf("invalid message id in %q", s)
	}
	return publish.Target{Channel: s[:i], MessageID: id}, nil
}
