// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "TrackTagger-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "tracktagger.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)
	viper.SetDefault("main.log.rotationday", time.Sunday)

	viper.SetDefault("realtime.streams", []map[string]any{})
	viper.SetDefault("realtime.rtsp.transport", "tcp")

	viper.SetDefault("realtime.audio.ffmpegpath", "")
	viper.SetDefault("realtime.audio.fpcalcpath", "")

	viper.SetDefault("realtime.window.windowseconds", 12)
	viper.SetDefault("realtime.window.hopseconds", 120)

	viper.SetDefault("realtime.recognition.maxinflight", 3)
	viper.SetDefault("realtime.recognition.perproviderinflight", 3)
	viper.SetDefault("realtime.recognition.timeout", 30)
	viper.SetDefault("realtime.recognition.shazam.endpoint", "")
	viper.SetDefault("realtime.recognition.acoustid.enabled", false)
	viper.SetDefault("realtime.recognition.acoustid.apikey", "")
	viper.SetDefault("realtime.recognition.acoustid.endpoint", "")

	viper.SetDefault("realtime.confirmation.tolerancehops", 1)
	viper.SetDefault("realtime.confirmation.dedupseconds", 300)

	viper.SetDefault("realtime.telemetry.enabled", false)
	viper.SetDefault("realtime.telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "tracktagger.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "tracktagger")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "tracktagger")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("retention.playsdays", -1)
	viper.SetDefault("retention.recognitionsdays", 30)
}
