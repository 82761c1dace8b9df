package realtime

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/tracktagger-go/internal/analysis"
	"github.com/tphakala/tracktagger-go/internal/conf"
)

// Command creates the realtime recognition command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Recognize music in realtime mode",
		Long:  "Start ingesting the configured RTSP streams and logging confirmed plays.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.RealtimeAnalysis(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Realtime.RTSP.Transport, "rtsptransport", viper.GetString("realtime.rtsp.transport"), "RTSP transport (tcp/udp)")
	cmd.Flags().StringVar(&settings.Realtime.Audio.FfmpegPath, "ffmpeg", viper.GetString("realtime.audio.ffmpegpath"), "Path to ffmpeg binary")
	cmd.Flags().StringVar(&settings.Realtime.Audio.FpcalcPath, "fpcalc", viper.GetString("realtime.audio.fpcalcpath"), "Path to Chromaprint fpcalc binary")
	cmd.Flags().IntVar(&settings.Realtime.Window.WindowSeconds, "window", viper.GetInt("realtime.window.windowseconds"), "Analysis window length in seconds")
	cmd.Flags().IntVar(&settings.Realtime.Window.HopSeconds, "hop", viper.GetInt("realtime.window.hopseconds"), "Cadence between window starts in seconds")
	cmd.Flags().BoolVar(&settings.Realtime.Telemetry.Enabled, "telemetry", viper.GetBool("realtime.telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Realtime.Telemetry.Listen, "listen", viper.GetString("realtime.telemetry.listen"), "Listen address and port of telemetry endpoint")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
