package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"neurolens/internal/session"
	"neurolens/internal/stream"
)

var (
	probeVideoURL  string
	probeVideoTime float64
)

var probeCmd = &cobra.Command{
	Use:   "probe <image>",
	Short: "Run one image through the emotion pipeline and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}

		p, err := buildPipeline(cfg, logger)
		if err != nil {
			return err
		}
		defer p.Close()

		frames, err := stream.NewHandler(stream.Config{
			Codec:      p.codec,
			Locator:    p.locator,
			Classifier: p.classifier,
			Normalizer: p.normalizer,
			Store:      session.NewStore(session.WithLogger(logger)),
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		out := frames.Handle(cmd.Context(), "probe", stream.FrameEvent{
			Img:       base64.StdEncoding.EncodeToString(raw),
			Timestamp: float64(time.Now().UnixMilli()),
			VideoTime: probeVideoTime,
			VideoURL:  probeVideoURL,
		})

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		if out.Error != "" {
			return fmt.Errorf("probe failed: %s", out.Error)
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeVideoURL, "video-url", "probe", "content identifier recorded with the frame")
	probeCmd.Flags().Float64Var(&probeVideoTime, "video-time", 0, "playback position in seconds")
	rootCmd.AddCommand(probeCmd)
}
