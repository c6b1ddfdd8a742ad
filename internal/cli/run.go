package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"postbot/internal/app"
	"postbot/internal/config"
	"postbot/internal/pipeline"
	"postbot/internal/post"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one post request and print the result",
	Long: `Process one post request (json or yaml, same shape as POST /api/v1/posts)
through the whole pipeline and print the result as JSON.

Example request.yaml:

  image:
    url: https://img.example/cover.jpg
  caption: "Model: Aria"
  link: https://src.example/1
  settings:
    link_placement: both
    lock_count: 2
    channels: ["-1001234567890", "@mychannel"]`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reqPath, _ := cmd.Flags().GetString("request")
		imagePath, _ := cmd.Flags().GetString("image-file")
		channels, _ := cmd.Flags().GetStringSlice("channel")
		placement, _ := cmd.Flags().GetString("placement")

		req, err := loadRequest(reqPath, imagePath, channels, placement)
		if err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Pipeline().Run(cmd.Context(), req)
		if err := writeJSON(cmd, res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("run %s failed: %s", res.RunID, res.Error)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("request", "r", "", "request file (json or yaml)")
	runCmd.Flags().String("image-file", "", "embed this image instead of the request's image")
	runCmd.Flags().StringSlice("channel", nil, "override target channels (repeatable)")
	runCmd.Flags().String("placement", "", "override link placement (caption, button, both)")
	_ = runCmd.MarkFlagRequired("request")
}

func loadRequest(path, imagePath string, channels []string, placement string) (pipeline.Request, error) {
	var req pipeline.Request
	if err := config.DecodeFile(path, &req); err != nil {
		return req, fmt.Errorf("request %s: %w", path, err)
	}
	if imagePath != "" {
		b, err := os.ReadFile(imagePath)
		if err != nil {
			return req, err
		}
		req.Image = pipeline.Image{Data: b}
	}
	if len(channels) > 0 {
		req.Settings.Channels = channels
	}
	if placement != "" {
		p, err := post.ParsePlacement(placement)
		if err != nil {
			return req, err
		}
		req.Settings.Placement = p
	}
	return req, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
